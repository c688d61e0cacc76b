package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Config is the full on-disk + environment-overridable configuration
// surface for the memory subsystem: where its workspace lives, how the
// graph adapter connects, how the completion gateway authenticates, and the
// narrative consolidation thresholds.
type Config struct {
	Workspace  WorkspaceConfig  `json:"workspace"`
	Graphiti   GraphitiConfig   `json:"graphiti"`
	Completion CompletionConfig `json:"completion"`
	Narrative  NarrativeConfig  `json:"narrative"`
	Debug      bool             `json:"debug" env:"MIND_DEBUG"`
	mu         sync.RWMutex
}

type WorkspaceConfig struct {
	Dir string `json:"dir" env:"MIND_WORKSPACE_DIR"`
}

// GraphitiConfig points at the concrete GraphAdapter backend. BaseURL is
// kept even though the shipped adapter is a local SQLite file, so a
// network-backed adapter can be swapped in later without a config
// migration.
type GraphitiConfig struct {
	BaseURL string `json:"baseUrl" env:"MIND_GRAPHITI_BASE_URL"`
	DBPath  string `json:"dbPath" env:"MIND_GRAPHITI_DB_PATH"`
}

// CompletionConfig configures the HTTPCompletionGateway and its failover
// fallback.
type CompletionConfig struct {
	APIBase       string `json:"apiBase" env:"MIND_COMPLETION_API_BASE"`
	APIKey        string `json:"apiKey" env:"MIND_COMPLETION_API_KEY"`
	Model         string `json:"model" env:"MIND_COMPLETION_MODEL"`
	FallbackModel string `json:"fallbackModel" env:"MIND_COMPLETION_FALLBACK_MODEL"`
	Proxy         string `json:"proxy,omitempty" env:"MIND_COMPLETION_PROXY"`
}

// NarrativeConfig configures the ConsolidationEngine.
type NarrativeConfig struct {
	Enabled              bool   `json:"enabled" env:"MIND_NARRATIVE_ENABLED"`
	Threshold            int    `json:"threshold" env:"MIND_NARRATIVE_THRESHOLD"`
	SafeTokenLimit       int    `json:"safeTokenLimit" env:"MIND_NARRATIVE_SAFE_TOKEN_LIMIT"`
	StoryFilename        string `json:"storyFilename" env:"MIND_NARRATIVE_STORY_FILENAME"`
	AutoBootstrapHistory bool   `json:"autoBootstrapHistory" env:"MIND_NARRATIVE_AUTO_BOOTSTRAP_HISTORY"`
	SkipResonance        bool   `json:"-" env:"MIND_SKIP_RESONANCE"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Dir: "~/.mind/workspace",
		},
		Graphiti: GraphitiConfig{
			BaseURL: "",
			DBPath:  "~/.mind/workspace/graph.db",
		},
		Completion: CompletionConfig{
			APIBase: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-5.2",
		},
		Narrative: NarrativeConfig{
			Enabled:              true,
			Threshold:            5000,
			SafeTokenLimit:       4000,
			StoryFilename:        "STORY.md",
			AutoBootstrapHistory: true,
		},
		Debug: false,
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if perr := env.Parse(cfg); perr != nil {
				return nil, perr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Workspace.Dir)
}

func (c *Config) GraphDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Graphiti.DBPath)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Completion.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Completion.APIBase != "" {
		return c.Completion.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
