package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the pbjx.toml file. Sections map onto the adapters' own
// ConfigFromMap, so every key they know can be set here.
//
//	store = "dynamodb"
//	transport = "redis-streams"
//
//	[dynamodb]
//	table_name = "acme_events"
//	region = "us-east-1"
//	total_segments = 32
//
//	[redis]
//	addr = "127.0.0.1:6379"
//
//	[s3]
//	bucket = "acme-exports"
type Config struct {
	Store     string         `toml:"store"`
	Transport string         `toml:"transport"`
	Debug     bool           `toml:"debug"`
	DynamoDB  map[string]any `toml:"dynamodb"`
	Redis     map[string]any `toml:"redis"`
	S3        S3Config       `toml:"s3"`
}

type S3Config struct {
	Bucket   string `toml:"bucket"`
	Key      string `toml:"key,omitempty"`
	Region   string `toml:"region,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
}

const (
	storeDynamoDB = "dynamodb"
	storeMemory   = "memory"
)

func defaultConfig() Config {
	return Config{
		Store:     storeDynamoDB,
		Transport: "memory",
		DynamoDB:  map[string]any{},
		Redis:     map[string]any{},
	}
}

// loadConfig reads path, if it exists, over the defaults and then applies
// PBJX_* environment variables.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if cfg.DynamoDB == nil {
		cfg.DynamoDB = map[string]any{}
	}
	if cfg.Redis == nil {
		cfg.Redis = map[string]any{}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	switch cfg.Store {
	case storeDynamoDB, storeMemory:
	default:
		return Config{}, fmt.Errorf("unknown store %q (must be dynamodb or memory)", cfg.Store)
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(name string, fn func(v string)) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			fn(v)
		}
	}
	set("PBJX_STORE", func(v string) { c.Store = v })
	set("PBJX_TRANSPORT", func(v string) { c.Transport = v })
	set("PBJX_DYNAMODB_TABLE", func(v string) { c.DynamoDB["table_name"] = v })
	set("PBJX_DYNAMODB_ENDPOINT", func(v string) { c.DynamoDB["endpoint"] = v })
	set("PBJX_REDIS_ADDR", func(v string) { c.Redis["addr"] = v })
	set("PBJX_S3_BUCKET", func(v string) { c.S3.Bucket = v })
	set("PBJX_S3_ENDPOINT", func(v string) { c.S3.Endpoint = v })
	set("PBJX_AWS_REGION", func(v string) {
		c.DynamoDB["region"] = v
		c.S3.Region = v
	})

	var err error
	set("PBJX_DEBUG", func(v string) {
		var b bool
		if b, err = strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	})
	if err != nil {
		return fmt.Errorf("PBJX_DEBUG: %w", err)
	}
	return nil
}
