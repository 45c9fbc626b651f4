// Package config loads the gateway's configuration surface: a config.json
// file under the data directory layered with environment
// variable overrides, the latter always winning. Provider API keys and the
// gateway auth token are read only from the environment — config.json has
// no field for either, so there is nothing to accidentally persist.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full recognized configuration surface.
type Config struct {
	Gateway  GatewayConfig
	Agents   AgentsConfig
	Tools    ToolsConfig
	Memory   MemoryConfig
	Security SecurityConfig
}

// GatewayConfig controls the loopback bind address.
type GatewayConfig struct {
	Host string
	Port int
}

// AgentsConfig resolves the default agent id and workspace location.
type AgentsConfig struct {
	Default       string
	WorkspacePath string
}

// ToolsConfig bounds the shell tool's wall-clock and output caps.
type ToolsConfig struct {
	TimeoutMS      int
	MaxOutputBytes int
}

// MemoryConfig toggles the external memory indexer; not consumed by core.
type MemoryConfig struct {
	Enabled        bool
	EmbeddingModel string
}

// SecurityConfig toggles the audit log and secret redaction filter.
type SecurityConfig struct {
	AuditLog      bool
	SecretsFilter bool
}

// defaultPort is the gateway's default loopback port.
const defaultPort = 18789

// Load reads configPath (a missing file is not an error; viper falls back
// to defaults) and layers GATEWAYD_-prefixed environment variables on top.
// API keys and the gateway auth token are deliberately absent from Config —
// callers read GATEWAYD_AUTH_TOKEN and the provider *_API_KEY variables
// directly from the environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", defaultPort)
	v.SetDefault("agents.default", "assistant")
	v.SetDefault("agents.workspacePath", "")
	v.SetDefault("tools.timeout", 30_000)
	v.SetDefault("tools.maxOutputBytes", 100*1024)
	v.SetDefault("memory.enabled", false)
	v.SetDefault("memory.embeddingModel", "")
	v.SetDefault("security.auditLog", true)
	v.SetDefault("security.secretsFilter", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Gateway: GatewayConfig{
			Host: v.GetString("gateway.host"),
			Port: v.GetInt("gateway.port"),
		},
		Agents: AgentsConfig{
			Default:       v.GetString("agents.default"),
			WorkspacePath: v.GetString("agents.workspacePath"),
		},
		Tools: ToolsConfig{
			TimeoutMS:      v.GetInt("tools.timeout"),
			MaxOutputBytes: v.GetInt("tools.maxOutputBytes"),
		},
		Memory: MemoryConfig{
			Enabled:        v.GetBool("memory.enabled"),
			EmbeddingModel: v.GetString("memory.embeddingModel"),
		},
		Security: SecurityConfig{
			AuditLog:      v.GetBool("security.auditLog"),
			SecretsFilter: v.GetBool("security.secretsFilter"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// validate checks bounds on the recognized configuration surface.
func (c *Config) validate() error {
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be 1-65535, got %d", c.Gateway.Port)
	}
	if c.Agents.Default == "" {
		return errors.New("agents.default must not be empty")
	}
	if c.Tools.TimeoutMS <= 0 {
		return fmt.Errorf("tools.timeout must be positive, got %d", c.Tools.TimeoutMS)
	}
	if c.Tools.MaxOutputBytes <= 0 {
		return fmt.Errorf("tools.maxOutputBytes must be positive, got %d", c.Tools.MaxOutputBytes)
	}
	return nil
}
