package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// DefaultFeedURL is the public disclosure table of the Ministry of Agriculture.
const DefaultFeedURL = "https://guvenilirgida.tarimorman.gov.tr/GuvenilirGida/GKD/DataTablesList"

type Config struct {
	Feed          Feed          `yaml:"feed"`
	Notifications Notifications `yaml:"notifications"`
	Background    Background    `yaml:"background"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Feed struct {
	URL            string `yaml:"url"`
	PageSize       int    `yaml:"page_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Notifications struct {
	// Alerter selects how alerts are presented: "log" or "webhook".
	Alerter           string `yaml:"alerter"`
	DefaultPermission string `yaml:"default_permission"`
	WebhookURL        string `yaml:"webhook_url"`
}

type Background struct {
	TaskID        string `yaml:"task_id"`
	BudgetSeconds int    `yaml:"budget_seconds"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConfigDir returns the XDG config directory for gidakurdu.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "gidakurdu")
}

// DataDir returns the XDG data directory for gidakurdu.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "gidakurdu")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/gidakurdu/config.yaml > ./config.yaml
// An empty result with a nil error means no file exists and defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file. An empty path yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Feed: Feed{
			URL:            DefaultFeedURL,
			PageSize:       1000,
			TimeoutSeconds: 30,
		},
		Notifications: Notifications{
			Alerter:           "log",
			DefaultPermission: "not_determined",
		},
		Background: Background{
			TaskID:        "com.gidakurdu.fetch",
			BudgetSeconds: 30,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize)
	}
	switch c.Notifications.Alerter {
	case "log":
	case "webhook":
		if c.Notifications.WebhookURL == "" {
			return fmt.Errorf("notifications.webhook_url is required for the webhook alerter")
		}
	default:
		return fmt.Errorf("unknown notifications.alerter %q", c.Notifications.Alerter)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// FeedTimeout is the transport-level timeout for a single feed request.
func (c *Config) FeedTimeout() time.Duration {
	if c.Feed.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// BackgroundBudget is the time a background run may take before it expires.
func (c *Config) BackgroundBudget() time.Duration {
	if c.Background.BudgetSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Background.BudgetSeconds) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
