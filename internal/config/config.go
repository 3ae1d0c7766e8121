// Package config loads missionctl settings from ~/.missionctl/config.yaml
// with MISSIONCTL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/missionctl/internal/alert"
	"github.com/ppiankov/missionctl/internal/mission"
)

// ErrInvalidConfig marks configuration errors (CLI exit code 78).
var ErrInvalidConfig = errors.New("invalid configuration")

// Audit trail backends.
const (
	AuditSQLite = "sqlite"
	AuditJSONL  = "jsonl"
)

// DefaultGRPCAddr is the read API listen address.
const DefaultGRPCAddr = "127.0.0.1:7470"

// Config is the full missionctl configuration.
type Config struct {
	StateDir     string `yaml:"state_dir"     env:"MISSIONCTL_STATE_DIR"`
	DBPath       string `yaml:"db_path"       env:"MISSIONCTL_DB_PATH"`
	AuditBackend string `yaml:"audit_backend" env:"MISSIONCTL_AUDIT_BACKEND"`
	AuditLogPath string `yaml:"audit_log"     env:"MISSIONCTL_AUDIT_LOG"`
	GatePath     string `yaml:"gate_config"   env:"MISSIONCTL_GATE_CONFIG"`
	GRPCAddr     string `yaml:"grpc_addr"     env:"MISSIONCTL_GRPC_ADDR"`

	Apply  ApplyConfig         `yaml:"apply"`
	Tools  ToolsConfig         `yaml:"tools"`
	OTel   OTelConfig          `yaml:"otel"`
	Alerts []alert.AlertConfig `yaml:"alerts"`
}

// ApplyConfig configures the local apply executor.
type ApplyConfig struct {
	// Command replaces the Apply/*.sh scripts when set.
	Command string        `yaml:"command" env:"MISSIONCTL_APPLY_COMMAND"`
	Timeout time.Duration `yaml:"timeout" env:"MISSIONCTL_APPLY_TIMEOUT"`
}

// ToolsConfig configures the verification tools.
type ToolsConfig struct {
	EvaluateRoot    string        `yaml:"evaluate_root"    env:"MISSIONCTL_EVALUATE_ROOT"`
	EvaluateCommand string        `yaml:"evaluate_command" env:"MISSIONCTL_EVALUATE_COMMAND"`
	EvaluateArgs    []string      `yaml:"evaluate_args"    env:"MISSIONCTL_EVALUATE_ARGS" envSeparator:" "`
	ScapCommand     string        `yaml:"scap_command"     env:"MISSIONCTL_SCAP_COMMAND"`
	ScapArgs        []string      `yaml:"scap_args"        env:"MISSIONCTL_SCAP_ARGS"     envSeparator:" "`
	Timeout         time.Duration `yaml:"timeout"          env:"MISSIONCTL_TOOL_TIMEOUT"`
}

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled  bool   `yaml:"enabled"  env:"MISSIONCTL_OTEL_ENABLED"`
	Endpoint string `yaml:"endpoint" env:"MISSIONCTL_OTEL_ENDPOINT"`
}

// DefaultStateDir returns ~/.missionctl.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".missionctl"
	}
	return filepath.Join(home, ".missionctl")
}

// DefaultPath returns ~/.missionctl/config.yaml.
func DefaultPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir:     DefaultStateDir(),
		AuditBackend: AuditSQLite,
		GRPCAddr:     DefaultGRPCAddr,
	}
}

// Load reads the YAML file at path (empty means DefaultPath), applies
// environment overrides and fills derived paths. A missing file yields
// defaults. Invalid YAML or values are wrapped in ErrInvalidConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Start with defaults, YAML overwrites only specified fields
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}

	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve() {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir()
	}
	if c.AuditBackend == "" {
		c.AuditBackend = AuditSQLite
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.StateDir, "missionctl.db")
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = filepath.Join(c.StateDir, "audit.jsonl")
	}
	if c.GatePath == "" {
		c.GatePath = filepath.Join(c.StateDir, "gate.yaml")
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.AuditBackend {
	case AuditSQLite, AuditJSONL:
	default:
		return fmt.Errorf("%w: audit_backend must be %q or %q, got %q", ErrInvalidConfig, AuditSQLite, AuditJSONL, c.AuditBackend)
	}
	if c.Apply.Timeout < 0 || c.Tools.Timeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		return fmt.Errorf("%w: otel.endpoint is required when otel is enabled", ErrInvalidConfig)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("%w: alerts[%d]: url is required", ErrInvalidConfig, i)
		}
		if len(a.Events) == 0 {
			return fmt.Errorf("%w: alerts[%d]: at least one event is required", ErrInvalidConfig, i)
		}
		for _, e := range a.Events {
			if e != alert.EventMissionFailed && e != alert.EventBreakGlassUsed {
				return fmt.Errorf("%w: alerts[%d]: unknown event %q", ErrInvalidConfig, i, e)
			}
		}
	}
	return nil
}

// EvaluateTool returns the evaluate tool options.
func (c *Config) EvaluateTool() mission.ToolOptions {
	return mission.ToolOptions{
		Tool:    mission.ToolEvaluate,
		Root:    c.Tools.EvaluateRoot,
		Command: c.Tools.EvaluateCommand,
		Args:    c.Tools.EvaluateArgs,
		Timeout: c.Tools.Timeout,
	}
}

// ScapTool returns the scap tool options.
func (c *Config) ScapTool() mission.ToolOptions {
	return mission.ToolOptions{
		Tool:    mission.ToolScap,
		Command: c.Tools.ScapCommand,
		Args:    c.Tools.ScapArgs,
		Timeout: c.Tools.Timeout,
	}
}
