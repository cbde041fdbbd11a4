package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	laps "github.com/laps-group/laps-go"
)

// ConfigFileName is the canonical name of a module's deployment config.
const ConfigFileName = "module.yaml"

// Config represents a module.yaml deployment configuration.
type Config struct {
	// Identity
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Broker connection
	Redis *RedisConfig `yaml:"redis,omitempty"`

	// WorkerIndex distinguishes replicas of the same module.
	WorkerIndex int `yaml:"worker_index,omitempty"`

	// TestMode routes every broker key to its test-mode counterpart.
	TestMode bool `yaml:"test_mode,omitempty"`
}

// RedisConfig holds the broker connection settings.
type RedisConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// GetHost returns the configured host or the default value.
func (r *RedisConfig) GetHost() string {
	if r == nil || r.Host == "" {
		return "localhost"
	}
	return r.Host
}

// GetPort returns the configured port or the default value.
func (r *RedisConfig) GetPort() int {
	if r == nil || r.Port == 0 {
		return 6379
	}
	return r.Port
}

// GetRedisURL builds the broker connection URL from the config.
func (c *Config) GetRedisURL() string {
	return fmt.Sprintf("redis://%s:%d", c.Redis.GetHost(), c.Redis.GetPort())
}

// Identity returns the module identity described by the config.
func (c *Config) Identity() laps.Identity {
	return laps.Identity{Name: c.Name, Version: c.Version, WorkerIndex: c.WorkerIndex}
}

// Validate checks that the config describes a runnable module.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if err := c.Identity().Validate(); err != nil {
		return err
	}
	if port := c.Redis.GetPort(); port < 1 || port > 65535 {
		return fmt.Errorf("redis port %d is out of range", port)
	}
	return nil
}

// LoadConfig reads and parses a module.yaml file from the given path.
// If the path is a directory, it looks for module.yaml or module.yml
// in that directory.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	var configPath string
	if info.IsDir() {
		// Try module.yaml first, then module.yml
		yamlPath := filepath.Join(path, ConfigFileName)
		if _, err := os.Stat(yamlPath); err == nil {
			configPath = yamlPath
		} else {
			ymlPath := filepath.Join(path, "module.yml")
			if _, err := os.Stat(ymlPath); err == nil {
				configPath = ymlPath
			} else {
				return nil, fmt.Errorf("no module.yaml or module.yml found in %s", path)
			}
		}
	} else {
		configPath = path
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfigFromDir searches for module.yaml starting from the given
// directory and walking up to parent directories until found or root
// is reached.
func LoadConfigFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := LoadConfig(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			// Reached root
			return nil, fmt.Errorf("no module.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

// LoadConfigFromCurrentDir loads module.yaml from the current working
// directory.
func LoadConfigFromCurrentDir() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadConfigFromDir(cwd)
}
