package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Log      LogConfig      `yaml:"log"`
	Terminal TerminalConfig `yaml:"terminal"`
}

type BackendConfig struct {
	APIURL         string        `yaml:"api_url"`
	WSURL          string        `yaml:"ws_url"`
	Token          string        `yaml:"token"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type TerminalConfig struct {
	ScrollbackDB string `yaml:"scrollback_db"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".mosaic-console")
	return &Config{
		Backend: BackendConfig{
			APIURL:         "http://127.0.0.1:8080",
			WSURL:          "ws://127.0.0.1:8080/ws",
			ConfirmTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(stateDir, "console.log"),
		},
		Terminal: TerminalConfig{
			ScrollbackDB: filepath.Join(stateDir, "scrollback.db"),
		},
	}
}

// Load reads the yaml file at path over the defaults. A missing file is
// not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
