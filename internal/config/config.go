package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models opsline.yml. It is stored in the workspace database and
// controls completion gating defaults and reporting parameters.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Items struct {
		// Defaults maps a work item type to its gating defaults; a type
		// absent from the map gets zero-value gates.
		Defaults map[string]TypeDefaults `yaml:"defaults"`
		Modules  []string                `yaml:"modules"`
	} `yaml:"items"`
	Reporting struct {
		DueWindowsDays []int `yaml:"due_windows_days"`
		PageCap        int   `yaml:"page_cap"`
	} `yaml:"reporting"`
	Reminders struct {
		DefaultChannel      string `yaml:"default_channel"`
		UpcomingWindowHours int    `yaml:"upcoming_window_hours"`
	} `yaml:"reminders"`
}

// TypeDefaults are the gates applied to newly created items of a type.
type TypeDefaults struct {
	EvidenceRequired bool `yaml:"evidence_required"`
	ApprovalRequired bool `yaml:"approval_required"`
}

// Default returns the baseline config for a workspace.
func Default(name string) *Config {
	cfg := &Config{}
	cfg.Workspace.Name = name
	cfg.Items.Defaults = map[string]TypeDefaults{
		"deliverable": {EvidenceRequired: true, ApprovalRequired: true},
		"report":      {EvidenceRequired: true},
		"task":        {},
	}
	cfg.Items.Modules = []string{"programs", "grants", "compliance", "operations"}
	cfg.Reporting.DueWindowsDays = []int{7, 30, 90}
	cfg.Reporting.PageCap = 50
	cfg.Reminders.DefaultChannel = "in_app"
	cfg.Reminders.UpcomingWindowHours = 48
	return cfg
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "opsline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ops config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.Name == "" {
		return fmt.Errorf("config.workspace.name is required")
	}
	if c.Items.Defaults == nil {
		return fmt.Errorf("config.items.defaults is required")
	}
	for itemType := range c.Items.Defaults {
		if itemType == "" {
			return fmt.Errorf("config.items.defaults contains empty item type")
		}
	}
	if len(c.Reporting.DueWindowsDays) == 0 {
		return fmt.Errorf("config.reporting.due_windows_days is required")
	}
	prev := 0
	for _, w := range c.Reporting.DueWindowsDays {
		if w <= prev {
			return fmt.Errorf("config.reporting.due_windows_days must be ascending positive values")
		}
		prev = w
	}
	if c.Reporting.PageCap <= 0 {
		return fmt.Errorf("config.reporting.page_cap must be positive")
	}
	if c.Reminders.DefaultChannel == "" {
		return fmt.Errorf("config.reminders.default_channel is required")
	}
	if c.Reminders.UpcomingWindowHours <= 0 {
		return fmt.Errorf("config.reminders.upcoming_window_hours must be positive")
	}
	return nil
}
