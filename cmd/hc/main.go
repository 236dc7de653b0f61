package main

import (
	"context"

	"github.com/pixil98/go-log"
	"github.com/pixil98/hc/cmd/hc/command"
	"github.com/pixil98/go-service"
	"github.com/spf13/cobra"
)

func main() {
	logger := log.NewLogger()

	var debugLevel int
	var noPathfinding bool

	cfg := &command.Config{}

	root := &cobra.Command{
		Use:   "hc",
		Short: "headless client for a Titanium-era MMORPG wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.DebugLevel = debugLevel
			cfg.NoPathfinding = noPathfinding

			app, err := service.NewApp(cfg, command.BuildWorkers)
			if err != nil {
				logger.WithError(err).Fatal("creating application")
			}

			if err := app.Run(context.Background()); err != nil {
				logger.WithError(err).Fatal("running application")
			}
			return nil
		},
	}

	root.Flags().IntVarP(&debugLevel, "debug", "d", 0, "debug verbosity, 0-3")
	root.Flags().StringP("config", "c", "", "path to the instance configuration file")
	// pflag's shorthand flags are POSIX single-character only, so -np can't
	// be registered as a true shorthand; --np and --no-pathfinding are both
	// wired to the same variable instead.
	root.Flags().BoolVar(&noPathfinding, "no-pathfinding", false, "disable pathfinding; moves go straight to the target")
	root.Flags().BoolVar(&noPathfinding, "np", false, "shorthand for --no-pathfinding")

	if err := root.Execute(); err != nil {
		logger.WithError(err).Fatal("running command")
	}

	logger.Info("exiting")
}
