// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvVar names the environment variable [Load] reads the config path from.
const EnvVar = "STUDIO_CONFIG"

// Config is the master configuration for the studio server and client.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Root is the base directory for studio data. Other path fields
	// may reference it as ${STUDIO_ROOT}.
	Root string `yaml:"root"`

	Server      ServerConfig      `yaml:"server"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Project     ProjectConfig     `yaml:"project"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Stream      StreamConfig      `yaml:"stream"`
	Client      ClientConfig      `yaml:"client"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server      *ServerConfig      `yaml:"server,omitempty"`
	Runtime     *RuntimeConfig     `yaml:"runtime,omitempty"`
	Transcripts *TranscriptsConfig `yaml:"transcripts,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Address is the TCP listen address.
	// Default: 127.0.0.1:8787
	Address string `yaml:"address"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RuntimeConfig configures how agent runtimes are resolved.
type RuntimeConfig struct {
	// Script is a JSONC replay script. When set, the default model is
	// the scripted runtime.
	Script string `yaml:"script"`

	// DefaultModel is used when a request names no model. Empty lets
	// the runtime factory decide.
	DefaultModel string `yaml:"default_model"`

	// CacheTTL is how long a resolved runtime instance is reused.
	// Zero keeps instances for the life of the process.
	// Default: 10m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// OpenAI configures the "openai" model. Empty BaseURL disables it.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures an OpenAI-compatible chat completions
// endpoint.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the config file.
	// Default: OPENAI_API_KEY
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the upstream model for the bare "openai" model name.
	Model string `yaml:"model"`

	// MaxTokens bounds each completion. Zero leaves it to the server.
	MaxTokens int `yaml:"max_tokens"`
}

// APIKey reads the key from the configured environment variable.
func (c OpenAIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// ProjectConfig configures the project tree whose changes are
// reported to clients after each turn.
type ProjectConfig struct {
	// Root is the project directory. Empty disables change tracking.
	Root string `yaml:"root"`

	// Ignore lists path segments skipped while snapshotting.
	Ignore []string `yaml:"ignore"`

	// MaxFileBytes skips files larger than this from snapshots.
	// Default: 1048576
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// TranscriptsConfig configures transcript persistence.
type TranscriptsConfig struct {
	// Dir holds one file per thread. Empty disables persistence.
	Dir string `yaml:"dir"`

	// Compression is one of: none, lz4, zstd.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// StreamConfig configures the server stream multiplexer.
type StreamConfig struct {
	// SuppressNodes lists metadata node names whose message chunks
	// are not forwarded.
	// Default: [tools]
	SuppressNodes []string `yaml:"suppress_nodes"`

	// ScanMaxDepth and ScanMaxWidth bound the recursive search for
	// nested messages arrays in updates payloads.
	ScanMaxDepth int `yaml:"scan_max_depth"`
	ScanMaxWidth int `yaml:"scan_max_width"`
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	// ServerURL is the studio server base URL.
	// Default: http://127.0.0.1:8787
	ServerURL string `yaml:"server_url"`

	// Dedup is the reducer de-duplication policy: turn or message-id.
	// Default: turn
	Dedup string `yaml:"dedup"`
}

// Default returns a Config with development defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "studio")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Server: ServerConfig{
			Address:         "127.0.0.1:8787",
			ShutdownTimeout: 10 * time.Second,
		},
		Runtime: RuntimeConfig{
			CacheTTL: 10 * time.Minute,
			OpenAI: OpenAIConfig{
				APIKeyEnv: "OPENAI_API_KEY",
			},
		},
		Project: ProjectConfig{
			Ignore:       []string{".git", "node_modules", ".DS_Store"},
			MaxFileBytes: 1 << 20,
		},
		Transcripts: TranscriptsConfig{
			Dir:         "${STUDIO_ROOT}/transcripts",
			Compression: "zstd",
		},
		Stream: StreamConfig{
			SuppressNodes: []string{"tools"},
			ScanMaxDepth:  8,
			ScanMaxWidth:  256,
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:8787",
			Dedup:     "turn",
		},
	}
}

// Load reads the file named by STUDIO_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your studio.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile reads path over [Default], applies the section for the
// configured environment, and expands variables in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()

	cfg.ExpandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			// Production keeps runtime instances longer.
			overrides = &ConfigOverrides{
				Runtime: &RuntimeConfig{CacheTTL: time.Hour},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.Address != "" {
			c.Server.Address = overrides.Server.Address
		}
		if overrides.Server.ShutdownTimeout != 0 {
			c.Server.ShutdownTimeout = overrides.Server.ShutdownTimeout
		}
	}

	if overrides.Runtime != nil {
		if overrides.Runtime.Script != "" {
			c.Runtime.Script = overrides.Runtime.Script
		}
		if overrides.Runtime.DefaultModel != "" {
			c.Runtime.DefaultModel = overrides.Runtime.DefaultModel
		}
		if overrides.Runtime.CacheTTL != 0 {
			c.Runtime.CacheTTL = overrides.Runtime.CacheTTL
		}
	}

	if overrides.Transcripts != nil {
		if overrides.Transcripts.Dir != "" {
			c.Transcripts.Dir = overrides.Transcripts.Dir
		}
		if overrides.Transcripts.Compression != "" {
			c.Transcripts.Compression = overrides.Transcripts.Compression
		}
	}
}

// ExpandVariables expands ${HOME}, ${STUDIO_ROOT}, and ${VAR:-default} in
// path fields. [LoadFile] calls it; callers using [Default] directly
// call it themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"STUDIO_ROOT": c.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["STUDIO_ROOT"] = c.Root

	c.Runtime.Script = expandVars(c.Runtime.Script, vars)
	c.Project.Root = expandVars(c.Project.Root, vars)
	c.Transcripts.Dir = expandVars(c.Transcripts.Dir, vars)
}

// varPattern matches ${NAME} and ${NAME:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${NAME} and ${NAME:-default} in s, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	if c.Runtime.CacheTTL < 0 {
		errs = append(errs, errors.New("runtime.cache_ttl must not be negative"))
	}

	if c.Runtime.OpenAI.MaxTokens < 0 {
		errs = append(errs, errors.New("runtime.openai.max_tokens must not be negative"))
	}

	if c.Project.MaxFileBytes <= 0 {
		errs = append(errs, errors.New("project.max_file_bytes must be positive"))
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Transcripts.Compression) {
		errs = append(errs, fmt.Errorf("transcripts.compression must be one of: %v", compressions))
	}

	if c.Stream.ScanMaxDepth <= 0 {
		errs = append(errs, errors.New("stream.scan_max_depth must be positive"))
	}
	if c.Stream.ScanMaxWidth <= 0 {
		errs = append(errs, errors.New("stream.scan_max_width must be positive"))
	}

	dedups := []string{"turn", "message-id"}
	if !slices.Contains(dedups, c.Client.Dedup) {
		errs = append(errs, fmt.Errorf("client.dedup must be one of: %v", dedups))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the directories the server writes into.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Root, c.Transcripts.Dir} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
