package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// RuntimeConfig holds the process-wide configuration for talking to the
// agent server and persisting local state.
type RuntimeConfig struct {
	// ServerURL is the base URL of the agent server, e.g. http://localhost:6060
	ServerURL string `yaml:"server_url"`
	// Token is the bearer token sent on every request, empty for none
	Token string `yaml:"token"`
	// Agent selects the default agent the server should run turns with
	Agent string `yaml:"agent"`
	// Model overrides the agent's default model when non-empty
	Model string `yaml:"model"`
	// StateDir is where chat history and other local state is stored
	StateDir string `yaml:"state_dir"`
	// Dev enables pretty console logging
	Dev bool `yaml:"dev"`
}

// Runtime is the global runtime configuration instance.
var Runtime *RuntimeConfig

func init() {
	Runtime = Load()
}

// Load builds the runtime configuration from defaults, the optional YAML
// config file, then environment variable overrides (highest precedence).
func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		ServerURL: "http://localhost:6060",
		Agent:     "codex",
		StateDir:  defaultStateDir(),
	}

	if path := configFilePath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			// Best effort: a broken config file falls back to defaults
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	if v := os.Getenv("AUTORUNNER_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("AUTORUNNER_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("AUTORUNNER_AGENT"); v != "" {
		cfg.Agent = v
	}
	if v := os.Getenv("AUTORUNNER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AUTORUNNER_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("AUTORUNNER_DEV"); v == "true" || v == "1" {
		cfg.Dev = true
	}

	_ = os.MkdirAll(cfg.StateDir, 0755)

	return cfg
}

// HistoryDir returns the directory chat history files are stored under.
func (rc *RuntimeConfig) HistoryDir() string {
	return filepath.Join(rc.StateDir, "history")
}

func configFilePath() string {
	if v := os.Getenv("AUTORUNNER_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".autorunner", "config.yaml")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "autorunner")
	}
	return filepath.Join(home, ".autorunner")
}
