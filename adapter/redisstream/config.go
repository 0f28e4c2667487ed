package redisstream

import (
	"fmt"
	"os"
	"time"

	"github.com/trickstertwo/pbjx"
)

// Config for the Redis Streams transport.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Streams commands and events are appended to.
	CommandStream string
	EventStream   string
	// Serializer names the envelope serializer (default: "json").
	Serializer string

	// Consumer group
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	AutoCreate  bool

	// Stream management
	AutoDeleteOnAck bool
	DeadLetter      string
	MaxLenApprox    int64

	// Pending entry recovery. Disabled when ClaimMinIdle is zero.
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "pbjx"
	}

	return Config{
		Addr:          "127.0.0.1:6379",
		CommandStream: "pbjx:commands",
		EventStream:   "pbjx:events",
		Serializer:    pbjx.SerializerJSON,
		Group:         "pbjx",
		Consumer:      fmt.Sprintf("pbjx-%s-%d", hostname, os.Getpid()),
		Concurrency:   8,
		BatchSize:     128,
		Block:         5 * time.Second,
		AutoCreate:    true,
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.CommandStream == "" || c.EventStream == "" {
		return fmt.Errorf("config: command_stream and event_stream required")
	}
	if c.CommandStream == c.EventStream {
		return fmt.Errorf("config: command_stream and event_stream must differ, got %q", c.CommandStream)
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	if _, err := pbjx.NewSerializer(c.Serializer); err != nil {
		return fmt.Errorf("config: serializer: %w", err)
	}
	return nil
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"username":           c.Username,
		"password":           c.Password,
		"db":                 c.DB,
		"tls":                c.TLS,
		"tls_server_name":    c.TLSServerName,
		"command_stream":     c.CommandStream,
		"event_stream":       c.EventStream,
		"serializer":         c.Serializer,
		"group":              c.Group,
		"consumer":           c.Consumer,
		"concurrency":        c.Concurrency,
		"batch_size":         c.BatchSize,
		"block":              c.Block,
		"auto_create":        c.AutoCreate,
		"auto_delete_on_ack": c.AutoDeleteOnAck,
		"dead_letter":        c.DeadLetter,
		"max_len_approx":     c.MaxLenApprox,
		"claim_min_idle":     c.ClaimMinIdle,
		"claim_batch":        c.ClaimBatch,
		"claim_interval":     c.ClaimInterval,
	}
}

// ConfigFromMap converts a generic map to Config, falling back to Defaults.
// Durations may be given as time.Duration or as strings like "5s".
func ConfigFromMap(cfg map[string]any) Config {
	d := Defaults()

	getString := func(k, def string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return def
	}
	getInt := func(k string, def int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return def
	}
	getInt64 := func(k string, def int64) int64 {
		switch v := cfg[k].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
		return def
	}
	getBool := func(k string, def bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return def
	}
	getDur := func(k string, def time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case int64:
			return time.Duration(v)
		}
		return def
	}

	return Config{
		Addr:          getString("addr", d.Addr),
		Username:      getString("username", ""),
		Password:      getString("password", ""),
		DB:            getInt("db", 0),
		TLS:           getBool("tls", false),
		TLSServerName: getString("tls_server_name", ""),

		CommandStream: getString("command_stream", d.CommandStream),
		EventStream:   getString("event_stream", d.EventStream),
		Serializer:    getString("serializer", d.Serializer),

		Group:       getString("group", d.Group),
		Consumer:    getString("consumer", d.Consumer),
		Concurrency: getInt("concurrency", d.Concurrency),
		BatchSize:   getInt("batch_size", d.BatchSize),
		Block:       getDur("block", d.Block),
		AutoCreate:  getBool("auto_create", d.AutoCreate),

		AutoDeleteOnAck: getBool("auto_delete_on_ack", false),
		DeadLetter:      getString("dead_letter", ""),
		MaxLenApprox:    getInt64("max_len_approx", 0),

		ClaimMinIdle:  getDur("claim_min_idle", 0),
		ClaimBatch:    getInt("claim_batch", d.ClaimBatch),
		ClaimInterval: getDur("claim_interval", d.ClaimInterval),
	}
}
