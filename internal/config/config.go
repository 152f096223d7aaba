// Package config loads the sync core's runtime configuration: the
// Neo4j/DynamoDB/SQS endpoints and the orchestrator's fan-out width.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tenant   TenantConfig   `yaml:"tenant"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Events   EventsConfig   `yaml:"events"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

type TenantConfig struct {
	ID      string `yaml:"id"`
	OrgName string `yaml:"org_name"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type DynamoDBConfig struct {
	TableName string `yaml:"table_name"`
}

type EventsConfig struct {
	QueueURL string `yaml:"queue_url"`
}

type SyncConfig struct {
	ConnectorName     string        `yaml:"connector_name"`
	FanOut            int           `yaml:"fan_out"`
	RateLimitCapacity int           `yaml:"rate_limit_capacity"`
	ChannelTTL        time.Duration `yaml:"channel_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Neo4j: Neo4jConfig{
			Database: "neo4j",
		},
		Sync: SyncConfig{
			FanOut:     8,
			ChannelTTL: 7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration from a YAML file, then applies
// environment overrides. This allows tests to supply isolated
// environment values instead of the real process environment.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	if v := getenv("SYNC_CORE_TENANT_ID"); v != "" {
		cfg.Tenant.ID = v
	}
	if v := getenv("SYNC_CORE_TENANT_ORG_NAME"); v != "" {
		cfg.Tenant.OrgName = v
	}
	if v := getenv("SYNC_CORE_NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := getenv("SYNC_CORE_NEO4J_USERNAME"); v != "" {
		cfg.Neo4j.Username = v
	}
	if v := getenv("SYNC_CORE_NEO4J_PASSWORD"); v != "" {
		cfg.Neo4j.Password = v
	}
	if v := getenv("SYNC_CORE_NEO4J_DATABASE"); v != "" {
		cfg.Neo4j.Database = v
	}
	if v := getenv("SYNC_CORE_DYNAMODB_TABLE"); v != "" {
		cfg.DynamoDB.TableName = v
	}
	if v := getenv("SYNC_CORE_EVENTS_QUEUE_URL"); v != "" {
		cfg.Events.QueueURL = v
	}
	if v := getenv("SYNC_CORE_CONNECTOR_NAME"); v != "" {
		cfg.Sync.ConnectorName = v
	}

	return cfg, nil
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if path := getenv("SYNC_CORE_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sync-core", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sync-core", "config.yaml")
}
