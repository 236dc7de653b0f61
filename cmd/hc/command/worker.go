package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-service"
)

// BuildWorkers constructs one service.Worker per configured instance.
func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	workers := make(service.WorkerList, len(cfg.Instances))
	for i, instCfg := range cfg.Instances {
		inst, err := newInstance(instCfg, cfg.DebugLevel, cfg.NoPathfinding, os.Stdin, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("building instance %d (%s): %w", i, instCfg.Character, err)
		}
		workers[fmt.Sprintf("instance-%s", instCfg.Character)] = inst
	}

	return workers, nil
}
