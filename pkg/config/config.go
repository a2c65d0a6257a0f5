// Package config loads CLI configuration from file, environment and
// defaults via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// EnvConfig points viper at an explicit config file, overriding the
// default search path.
const EnvConfig = "STRATUM_CONFIG"

// Config describes the CLI configuration.
type Config struct {
	// field names must match the serialized names for viper.Unmarshal
	Root     string            `json:"root" yaml:"root"`         // repository root directory
	Remote   string            `json:"remote" yaml:"remote"`     // default remote name
	Remotes  map[string]string `json:"remotes" yaml:"remotes"`   // remote name -> base URL
	LogLevel string            `json:"loglevel" yaml:"loglevel"` // info, debug or none
	User     string            `json:"user" yaml:"user"`         // author recorded in tag entries
}

// Init installs defaults and the config search path. Call once before
// Load, typically from cobra.OnInitialize.
func Init() {
	viper.SetDefault("root", defaultRoot())
	viper.SetDefault("remote", "origin")
	viper.SetDefault("loglevel", "info")
	if explicit := os.Getenv(EnvConfig); explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.stratum")
		viper.AddConfigPath("/etc/stratum")
		viper.SetConfigName("stratum")
	}
	viper.SetEnvPrefix("stratum")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// Load materializes the configuration viper has accumulated.
func Load() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// RemoteURL resolves a remote name to its base URL. An empty name
// means the configured default remote; a name that already looks like
// a URL or a repository path passes through.
func (c *Config) RemoteURL(name string) (string, error) {
	if name == "" {
		name = c.Remote
	}
	if url, ok := c.Remotes[name]; ok {
		return url, nil
	}
	for _, scheme := range []string{"http://", "https://", "file://"} {
		if len(name) > len(scheme) && name[:len(scheme)] == scheme {
			return name, nil
		}
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	return "", fmt.Errorf("unknown remote %q", name)
}

// Write serializes the configuration to the given path, creating
// parent directories as needed.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stratum-repo"
	}
	return filepath.Join(home, ".stratum", "repo")
}
