package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Global    GlobalConfig          `yaml:"global" json:"global"`
	Engine    EngineConfig          `yaml:"engine" json:"engine"`
	Resolver  ResolverConfig        `yaml:"resolver" json:"resolver"`
	Namespace NamespaceConfig       `yaml:"namespace" json:"namespace"`
	Tools     map[string]ToolConfig `yaml:"tools" json:"tools"`
	Storage   StorageConfig         `yaml:"storage" json:"storage"`
	API       APIConfig             `yaml:"api" json:"api"`
	Metrics   MetricsConfig         `yaml:"metrics" json:"metrics"`
}

type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
	LogFile   string `yaml:"log_file" json:"log_file"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	Debug     bool   `yaml:"debug" json:"debug"`
}

type EngineConfig struct {
	ToolTimeout  time.Duration `yaml:"tool_timeout" json:"tool_timeout"`
	Parallelism  int           `yaml:"parallelism" json:"parallelism"`
	Simulate     bool          `yaml:"simulate" json:"simulate"`
	DefaultTools []string      `yaml:"default_tools" json:"default_tools"`
	SpawnRate    float64       `yaml:"spawn_rate" json:"spawn_rate"`
	MockDelay    time.Duration `yaml:"mock_delay" json:"mock_delay"`
	MockFindings int           `yaml:"mock_findings" json:"mock_findings"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
}

type ResolverConfig struct {
	StagingRoot          string   `yaml:"staging_root" json:"staging_root"`
	DirectRoots          []string `yaml:"direct_roots" json:"direct_roots"`
	AllowAbsolute        bool     `yaml:"allow_absolute" json:"allow_absolute"`
	AllowWorkdirFallback bool     `yaml:"allow_workdir_fallback" json:"allow_workdir_fallback"`
}

// NamespaceConfig describes where external tools execute. Mode "native" runs
// them against host paths; mode "wsl" runs them through a launcher and
// translates host paths first.
type NamespaceConfig struct {
	Mode     string            `yaml:"mode" json:"mode"`
	Launcher []string          `yaml:"launcher" json:"launcher"`
	Utility  []string          `yaml:"utility" json:"utility"`
	Prefixes map[string]string `yaml:"prefixes" json:"prefixes"`
}

type ToolConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Binary     string        `yaml:"binary" json:"binary"`
	Args       []string      `yaml:"args" json:"args"`
	MinVersion string        `yaml:"min_version" json:"min_version"`
	Platforms  []string      `yaml:"platforms" json:"platforms"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

type StorageConfig struct {
	Path        string        `yaml:"path" json:"path"`
	Compression bool          `yaml:"compression" json:"compression"`
	Retention   time.Duration `yaml:"retention" json:"retention"`
	SessionTTL  time.Duration `yaml:"session_ttl" json:"session_ttl"`
}

type APIConfig struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port"`
	MaxConnections int           `yaml:"max_connections" json:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	EventBuffer    int           `yaml:"event_buffer" json:"event_buffer"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
	Runtime bool   `yaml:"runtime" json:"runtime"`
}

func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:  "info",
			LogFormat: "text",
			DataDir:   "./data",
		},
		Engine: EngineConfig{
			ToolTimeout:  5 * time.Minute,
			Parallelism:  1,
			Simulate:     false,
			DefaultTools: []string{"semgrep", "trivy", "gitleaks"},
			SpawnRate:    5,
			MockDelay:    150 * time.Millisecond,
			MockFindings: 0,
			ProbeTimeout: 10 * time.Second,
		},
		Resolver: ResolverConfig{
			StagingRoot:          "./data/uploads",
			DirectRoots:          []string{},
			AllowAbsolute:        true,
			AllowWorkdirFallback: false,
		},
		Namespace: NamespaceConfig{
			Mode:     "native",
			Launcher: []string{},
			Utility:  []string{"wslpath", "-a"},
			Prefixes: map[string]string{},
		},
		Tools: DefaultToolConfigs(),
		Storage: StorageConfig{
			Path:        "./data/results",
			Compression: true,
			Retention:   30 * 24 * time.Hour,
			SessionTTL:  time.Hour,
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			MaxConnections: 256,
			ReadTimeout:    30 * time.Second,
			EventBuffer:    64,
			CORSOrigins:    []string{},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
			Runtime: true,
		},
	}
}

func DefaultToolConfigs() map[string]ToolConfig {
	return map[string]ToolConfig{
		"semgrep":  {Enabled: true, Binary: "semgrep", Platforms: []string{"linux", "darwin"}},
		"trivy":    {Enabled: true, Binary: "trivy"},
		"gitleaks": {Enabled: true, Binary: "gitleaks"},
		"gosec":    {Enabled: true, Binary: "gosec"},
		"bandit":   {Enabled: true, Binary: "bandit"},
	}
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Global.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "global.log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, "global.log_format must be text or json")
	}

	if c.Engine.ToolTimeout <= 0 {
		errs = append(errs, "engine.tool_timeout must be > 0")
	}
	if c.Engine.Parallelism <= 0 {
		errs = append(errs, "engine.parallelism must be > 0")
	}
	if c.Engine.SpawnRate < 0 {
		errs = append(errs, "engine.spawn_rate must be >= 0")
	}
	if c.Engine.MockDelay < 0 {
		errs = append(errs, "engine.mock_delay must be >= 0")
	}
	if c.Engine.MockFindings < 0 {
		errs = append(errs, "engine.mock_findings must be >= 0")
	}

	if c.Resolver.StagingRoot == "" {
		errs = append(errs, "resolver.staging_root must not be empty")
	}
	for _, r := range c.Resolver.DirectRoots {
		if !filepath.IsAbs(r) {
			errs = append(errs, fmt.Sprintf("resolver.direct_roots entry %q must be absolute", r))
		}
	}

	switch c.Namespace.Mode {
	case "", "native":
	case "wsl":
		if len(c.Namespace.Utility) == 0 {
			errs = append(errs, "namespace.utility must be set when namespace.mode is wsl")
		}
	default:
		errs = append(errs, fmt.Sprintf("namespace.mode %q is not supported", c.Namespace.Mode))
	}

	for name, t := range c.Tools {
		if t.Enabled && t.Binary == "" {
			errs = append(errs, fmt.Sprintf("tools.%s.binary must not be empty when enabled", name))
		}
		if t.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("tools.%s.timeout must be >= 0", name))
		}
	}

	if c.Storage.Path == "" {
		errs = append(errs, "storage.path must not be empty")
	}
	if c.Storage.Retention < 0 || c.Storage.SessionTTL < 0 {
		errs = append(errs, "storage.{retention,session_ttl} must be >= 0")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be in 1..65535")
	}
	if c.API.MaxConnections < 0 {
		errs = append(errs, "api.max_connections must be >= 0")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be in 1..65535 when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			if err2 := json.Unmarshal(data, c); err2 != nil {
				return fmt.Errorf("parse config (yaml/json): %v | %v", err, err2)
			}
		}
	}

	return c.Validate()
}

// Tool returns the configuration for name, falling back to the built-in
// defaults and then to a bare entry whose binary is the tool name.
func (c *Config) Tool(name string) ToolConfig {
	key := strings.ToLower(name)
	if t, ok := c.Tools[key]; ok {
		if t.Binary == "" {
			t.Binary = key
		}
		return t
	}
	if t, ok := DefaultToolConfigs()[key]; ok {
		return t
	}
	return ToolConfig{Enabled: true, Binary: key}
}

