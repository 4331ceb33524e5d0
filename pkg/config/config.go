// Package config loads and validates this engine's configuration.
// Environment variables are the primary surface (see the env vars handled
// by LoadFromEnv); an optional YAML file supplies additional static
// defaults (MCP server catalog, embedding provider catalog, agent model
// settings) merged underneath the env vars with dario.cat/mergo, mirroring
// the teacher's env-first, YAML-fallback loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PoolConfig configures the kernel pre-start pool (§4.2).
type PoolConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Size           int            `yaml:"size" validate:"min=0"`
	AutoRefill     bool           `yaml:"auto_refill"`
	PreloadConfigs []PreloadEntry `yaml:"preload_configs"`
	AllowedTypes   []PreloadEntry `yaml:"allowed_kernel_types" validate:"required,min=1"`
}

// PreloadEntry is a (mode, language) pair, e.g. "worker-python".
type PreloadEntry struct {
	Mode     string `yaml:"mode"`
	Language string `yaml:"language"`
}

func (e PreloadEntry) String() string { return e.Mode + "-" + e.Language }

// ParsePreloadEntries parses a comma-separated "mode-language,mode-language"
// list such as ALLOWED_KERNEL_TYPES="worker-python,worker-typescript".
func ParsePreloadEntries(s string) ([]PreloadEntry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var entries []PreloadEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Split at the last dash: modes may themselves contain one
		// ("main-thread"), languages do not.
		i := strings.LastIndex(part, "-")
		if i < 0 {
			return nil, fmt.Errorf("config: invalid kernel type entry %q, want \"mode-language\"", part)
		}
		entries = append(entries, PreloadEntry{Mode: part[:i], Language: part[i+1:]})
	}
	return entries, nil
}

// VectorDBConfig configures the Vector DB Manager (§4.8).
type VectorDBConfig struct {
	MaxInstances              int           `yaml:"max_instances" validate:"min=1"`
	OffloadDirectory          string        `yaml:"offload_directory" validate:"required"`
	DefaultInactivityTimeout  time.Duration `yaml:"default_inactivity_timeout"`
	ActivityMonitoringEnabled bool          `yaml:"activity_monitoring_enabled"`
	DefaultEmbeddingProvider  string        `yaml:"default_embedding_provider" validate:"required"`
}

// AgentDefaults configures the Agent Manager (§4.9).
type AgentDefaults struct {
	DataDirectory         string `yaml:"data_directory" validate:"required"`
	MaxAgents             int    `yaml:"max_agents" validate:"min=1"`
	AutoSaveConversations bool   `yaml:"auto_save_conversations"`
	MaxStepsCap           int    `yaml:"max_steps_cap" validate:"min=1"`

	ModelBaseURL     string  `yaml:"model_base_url"`
	ModelAPIKey      string  `yaml:"model_api_key"`
	ModelName        string  `yaml:"model_name"`
	ModelTemperature float64 `yaml:"model_temperature"`
}

// MCPServerConfig describes one configured MCP server (§6 MCP server registry).
type MCPServerConfig struct {
	Name string `yaml:"name" validate:"required"`
	// Command + Args select a stdio transport; URL selects an HTTP transport.
	// Exactly one of Command or URL must be set — validated in Validate().
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	URL     string   `yaml:"url,omitempty"`
}

// Transport reports which MCP transport this server is configured for.
func (m MCPServerConfig) Transport() string {
	if m.URL != "" {
		return "http"
	}
	return "stdio"
}

// EmbeddingProviderConfig describes one configured embedding provider (§4.7).
type EmbeddingProviderConfig struct {
	Name      string `yaml:"name" validate:"required"`
	Type      string `yaml:"type" validate:"required,oneof=mock remote"`
	Dimension int    `yaml:"dimension" validate:"required,min=1"`
	BaseURL   string `yaml:"base_url,omitempty"`
}

// Config is the fully merged, validated configuration snapshot handed to
// every manager by constructor injection — never a global singleton,
// mirroring the teacher's config.Config/Initialize pattern.
type Config struct {
	HTTPAddr  string `yaml:"http_addr" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	Pool     PoolConfig     `yaml:"pool"`
	VectorDB VectorDBConfig `yaml:"vectordb"`
	Agents   AgentDefaults  `yaml:"agents"`

	MCPServers             []MCPServerConfig        `yaml:"mcp_servers"`
	MCPHealthCheckInterval time.Duration            `yaml:"mcp_health_check_interval"`
	EmbeddingProviders     []EmbeddingProviderConfig `yaml:"embedding_providers"`
}

// Default returns the built-in defaults, mirroring DefaultQueueConfig's role
// in the teacher repo: a single source of base values merged under
// anything more specific.
func Default() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Pool: PoolConfig{
			Enabled:      true,
			Size:         2,
			AutoRefill:   true,
			AllowedTypes: []PreloadEntry{{Mode: "worker", Language: "python"}},
		},
		VectorDB: VectorDBConfig{
			MaxInstances:              10,
			OffloadDirectory:          "./vectordb_offload",
			DefaultInactivityTimeout:  30 * time.Minute,
			ActivityMonitoringEnabled: true,
			DefaultEmbeddingProvider:  "mock-model",
		},
		Agents: AgentDefaults{
			DataDirectory:         "./agent_data",
			MaxAgents:             50,
			AutoSaveConversations: true,
			MaxStepsCap:           10,
			ModelTemperature:      0.2,
		},
		MCPHealthCheckInterval: 30 * time.Second,
		EmbeddingProviders: []EmbeddingProviderConfig{
			{Name: "mock-model", Type: "mock", Dimension: 32},
		},
	}
}

// LoadFromEnv overlays recognized environment variables (§6) onto cfg.
func LoadFromEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := getenv("KERNEL_POOL_ENABLED"); v != "" {
		cfg.Pool.Enabled = v != "false"
	}
	if v := getenv("KERNEL_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: KERNEL_POOL_SIZE: %w", err)
		}
		cfg.Pool.Size = n
	}
	if v := getenv("KERNEL_POOL_AUTO_REFILL"); v != "" {
		cfg.Pool.AutoRefill = v != "false"
	}
	if v := getenv("KERNEL_POOL_PRELOAD_CONFIGS"); v != "" {
		entries, err := ParsePreloadEntries(v)
		if err != nil {
			return err
		}
		cfg.Pool.PreloadConfigs = entries
	}
	if v := getenv("ALLOWED_KERNEL_TYPES"); v != "" {
		entries, err := ParsePreloadEntries(v)
		if err != nil {
			return err
		}
		cfg.Pool.AllowedTypes = entries
	}

	if v := getenv("EMBEDDING_MODEL"); v != "" {
		cfg.VectorDB.DefaultEmbeddingProvider = v
	}
	if v := getenv("MAX_VECTOR_DB_INSTANCES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_VECTOR_DB_INSTANCES: %w", err)
		}
		cfg.VectorDB.MaxInstances = n
	}
	if v := getenv("VECTORDB_OFFLOAD_DIRECTORY"); v != "" {
		cfg.VectorDB.OffloadDirectory = v
	}
	if v := getenv("VECTORDB_DEFAULT_INACTIVITY_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: VECTORDB_DEFAULT_INACTIVITY_TIMEOUT: %w", err)
		}
		cfg.VectorDB.DefaultInactivityTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := getenv("VECTORDB_ACTIVITY_MONITORING"); v != "" {
		cfg.VectorDB.ActivityMonitoringEnabled = v != "false"
	}

	if v := getenv("OLLAMA_HOST"); v != "" {
		for i := range cfg.EmbeddingProviders {
			if cfg.EmbeddingProviders[i].Type == "remote" {
				cfg.EmbeddingProviders[i].BaseURL = v
			}
		}
	}

	if v := getenv("AGENT_MODEL_BASE_URL"); v != "" {
		cfg.Agents.ModelBaseURL = v
	}
	if v := getenv("AGENT_MODEL_API_KEY"); v != "" {
		cfg.Agents.ModelAPIKey = v
	}
	if v := getenv("AGENT_MODEL_NAME"); v != "" {
		cfg.Agents.ModelName = v
	}
	if v := getenv("AGENT_MODEL_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: AGENT_MODEL_TEMPERATURE: %w", err)
		}
		cfg.Agents.ModelTemperature = f
	}
	if v := getenv("AGENT_DATA_DIRECTORY"); v != "" {
		cfg.Agents.DataDirectory = v
	}
	if v := getenv("MAX_AGENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_AGENTS: %w", err)
		}
		cfg.Agents.MaxAgents = n
	}
	if v := getenv("AUTO_SAVE_CONVERSATIONS"); v != "" {
		cfg.Agents.AutoSaveConversations = v != "false"
	}
	if v := getenv("AGENT_MAX_STEPS_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: AGENT_MAX_STEPS_CAP: %w", err)
		}
		cfg.Agents.MaxStepsCap = n
	}

	if v := getenv("MCP_HEALTH_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: MCP_HEALTH_CHECK_INTERVAL: %w", err)
		}
		cfg.MCPHealthCheckInterval = d
	}

	return nil
}

// LoadYAMLFile reads an optional static YAML config file (CONFIG_FILE) and
// merges it over cfg: every non-zero value in the file replaces cfg's. Load
// applies the environment afterwards, so env values still win, mirroring
// §6's "environment variables are the primary surface".
func LoadYAMLFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewLoadError(path, err)
	}
	expanded := ExpandEnv(raw)

	var fromFile Config
	if err := yaml.Unmarshal(expanded, &fromFile); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(cfg, fromFile, mergo.WithOverride); err != nil {
		return NewLoadError(path, err)
	}
	return nil
}

// LoadMCPServersFile reads an optional YAML file listing MCP servers
// (MCP_SERVERS_FILE) and appends them to cfg.MCPServers.
func LoadMCPServersFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewLoadError(path, err)
	}
	var doc struct {
		Servers []MCPServerConfig `yaml:"mcp_servers"`
	}
	if err := yaml.Unmarshal(ExpandEnv(raw), &doc); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	cfg.MCPServers = append(cfg.MCPServers, doc.Servers...)
	return nil
}

var validate = validator.New()

// Validate checks structural invariants beyond what struct tags express:
// each MCP server names exactly one transport, and env expansion did not
// leave required fields empty.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	seen := make(map[string]bool, len(c.MCPServers))
	for _, s := range c.MCPServers {
		if s.Command == "" && s.URL == "" {
			return NewValidationError("mcp_server", s.Name, "", fmt.Errorf("%w: must set either command or url", ErrMissingRequiredField))
		}
		if s.Command != "" && s.URL != "" {
			return NewValidationError("mcp_server", s.Name, "", fmt.Errorf("%w: must not set both command and url", ErrInvalidValue))
		}
		if seen[s.Name] {
			return NewValidationError("mcp_server", s.Name, "", fmt.Errorf("%w: duplicate server name", ErrInvalidValue))
		}
		seen[s.Name] = true
	}
	dims := make(map[string]int, len(c.EmbeddingProviders))
	for _, p := range c.EmbeddingProviders {
		if _, dup := dims[p.Name]; dup {
			return NewValidationError("embedding_provider", p.Name, "", fmt.Errorf("%w: duplicate provider name", ErrInvalidValue))
		}
		dims[p.Name] = p.Dimension
	}
	if _, ok := dims[c.VectorDB.DefaultEmbeddingProvider]; !ok {
		return NewValidationError("vectordb", c.VectorDB.DefaultEmbeddingProvider, "default_embedding_provider", ErrInvalidReference)
	}
	return nil
}

// Load builds the full configuration: built-in defaults, overlaid by an
// optional CONFIG_FILE, overlaid by environment variables (which win),
// plus an optional MCP_SERVERS_FILE, then validated.
func Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if err := LoadYAMLFile(cfg, getenv("CONFIG_FILE")); err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := LoadMCPServersFile(cfg, getenv("MCP_SERVERS_FILE")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
