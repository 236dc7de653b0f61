package command

import (
	"encoding/json"
	"fmt"

	"github.com/pixil98/go-errors"
)

// ChatBusConfig optionally enables internal/chatbus's NATS publish hook for
// one instance. Off unless enabled is set.
type ChatBusConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`
}

func (c *ChatBusConfig) validate() error {
	el := errors.NewErrorList()

	if c.Enabled && c.URL == "" {
		el.Add(fmt.Errorf("chat_bus.url is required when chat_bus.enabled is true"))
	}

	return el.Err()
}

// InstanceConfig is one array element: everything needed to run a single
// login/world/zone session for one character.
type InstanceConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	User string `json:"user"`
	Pass string `json:"pass"`

	Server    string `json:"server"`
	Character string `json:"character"`

	NavmeshPath string `json:"navmesh_path,omitempty"`
	MapsPath    string `json:"maps_path,omitempty"`

	ChatBus ChatBusConfig `json:"chat_bus,omitempty"`
}

func (c *InstanceConfig) validate() error {
	el := errors.NewErrorList()

	if c.Host == "" {
		el.Add(fmt.Errorf("host is required"))
	}
	if c.Port <= 0 {
		el.Add(fmt.Errorf("port must be set to a positive integer"))
	}
	if c.User == "" {
		el.Add(fmt.Errorf("user is required"))
	}
	if c.Server == "" {
		el.Add(fmt.Errorf("server is required"))
	}
	if c.Character == "" {
		el.Add(fmt.Errorf("character is required"))
	}
	el.Add(c.ChatBus.validate())

	return el.Err()
}

// Config is the top-level configuration. The document on disk is a bare
// JSON array of InstanceConfig (no enclosing object), so Config implements
// json.Unmarshaler itself rather than tagging a single field; DebugLevel
// and NoPathfinding are command-line overrides applied uniformly to every
// instance after the file is loaded, not part of the document.
type Config struct {
	Instances []InstanceConfig

	DebugLevel    int
	NoPathfinding bool
}

func (c *Config) UnmarshalJSON(data []byte) error {
	var instances []InstanceConfig
	if err := json.Unmarshal(data, &instances); err != nil {
		return fmt.Errorf("decoding instance list: %w", err)
	}
	c.Instances = instances
	return nil
}

func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if len(c.Instances) == 0 {
		el.Add(fmt.Errorf("at least one instance must be configured"))
	}
	for i, inst := range c.Instances {
		if err := inst.validate(); err != nil {
			el.Add(fmt.Errorf("instance %d: %w", i, err))
		}
	}
	if c.DebugLevel < 0 || c.DebugLevel > 3 {
		el.Add(fmt.Errorf("debug level must be between 0 and 3, got %d", c.DebugLevel))
	}

	return el.Err()
}
