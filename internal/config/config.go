package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PasswordEnv overrides the controller password when set.
const PasswordEnv = "APIC_PASSWORD"

// Config is a run profile. Command line flags take precedence over it.
type Config struct {
	Controller  ControllerConfig `yaml:"controller"`
	Query       QueryConfig      `yaml:"query"`
	Output      OutputConfig     `yaml:"output"`
	Concurrency int              `yaml:"concurrency"`
	Log         LogConfig        `yaml:"log"`
}

type ControllerConfig struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
	Timeout  string `yaml:"timeout"` // Go duration, e.g. "30s"
}

type QueryConfig struct {
	Tenant      string `yaml:"tenant"`
	Contract    string `yaml:"contract"`
	DNFilter    string `yaml:"dn_filter"`
	NameFilter  string `yaml:"name_filter"`
	TargetsFile string `yaml:"targets_file"`
}

type OutputConfig struct {
	Path     string `yaml:"path"`
	Template string `yaml:"template"`
	DB       string `yaml:"db"` // MariaDB DSN for snapshots
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the profile used when no file is given.
func Default() Config {
	return Config{
		Controller: ControllerConfig{
			Username: "admin",
			Insecure: true,
			Timeout:  "30s",
		},
		Output:      OutputConfig{Path: "contracts.xlsx"},
		Concurrency: 1,
		Log:         LogConfig{Level: "INFO"},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if pwd := os.Getenv(PasswordEnv); pwd != "" && cfg.Controller.Password == "" {
		cfg.Controller.Password = pwd
	}
	return cfg, nil
}

// TimeoutDuration parses Controller.Timeout.
func (c Config) TimeoutDuration() (time.Duration, error) {
	if c.Controller.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Controller.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid controller timeout %q: %w", c.Controller.Timeout, err)
	}
	return d, nil
}

// Validate checks the fields a run cannot do without.
func (c Config) Validate(provider string) error {
	switch provider {
	case "apic":
		if c.Controller.Host == "" {
			return fmt.Errorf("controller host is required")
		}
		if c.Controller.Username == "" || c.Controller.Password == "" {
			return fmt.Errorf("controller username and password are required")
		}
		if _, err := c.TimeoutDuration(); err != nil {
			return err
		}
	case "mariadb":
		if c.Output.DB == "" {
			return fmt.Errorf("database connection string must be provided for mariadb provider")
		}
	default:
		return fmt.Errorf("unknown contract provider: %s", provider)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output path is required")
	}
	return nil
}
