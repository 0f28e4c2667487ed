package dynamodb

import (
	"fmt"
	"time"
)

const (
	DefaultTableName     = "pbjx_events"
	DefaultTotalSegments = 16
	DefaultConcurrency   = 25
	maxTotalSegments     = 1000
	maxConcurrency       = 100
)

// Config for the DynamoDB event store.
type Config struct {
	TableName string
	// Region and Endpoint are used by New when it loads the AWS config.
	// Endpoint points the client at DynamoDB Local or another emulator.
	Region   string
	Endpoint string

	// Full table scans (PipeAllEvents)
	TotalSegments int
	Concurrency   int
	// SkipErrors logs and drops a failing scan segment instead of failing
	// the whole scan.
	SkipErrors bool

	// Provisioned throughput for CreateStorage. Zero means on-demand.
	ReadCapacity  int64
	WriteCapacity int64
	// CreateTimeout bounds the wait for a new table to become ACTIVE.
	CreateTimeout time.Duration
}

// Defaults returns a Config for an on-demand table named pbjx_events.
func Defaults() Config {
	return Config{
		TableName:     DefaultTableName,
		TotalSegments: DefaultTotalSegments,
		Concurrency:   DefaultConcurrency,
		CreateTimeout: 5 * time.Minute,
	}
}

// Validate checks the config. Scan settings out of range are clamped, not
// rejected.
func (c Config) Validate() error {
	if c.TableName == "" {
		return fmt.Errorf("config: table_name required")
	}
	if (c.ReadCapacity > 0) != (c.WriteCapacity > 0) {
		return fmt.Errorf("config: read_capacity and write_capacity must be set together")
	}
	if c.CreateTimeout <= 0 {
		return fmt.Errorf("config: create_timeout must be > 0, got %v", c.CreateTimeout)
	}
	return nil
}

func (c Config) segments() int {
	if c.TotalSegments == 0 {
		return DefaultTotalSegments
	}
	return min(max(c.TotalSegments, 1), maxTotalSegments)
}

func (c Config) concurrency() int {
	if c.Concurrency == 0 {
		return DefaultConcurrency
	}
	return min(max(c.Concurrency, 1), maxConcurrency)
}

// ConfigFromMap converts a generic map, such as a decoded TOML table, to
// Config, falling back to Defaults.
func ConfigFromMap(cfg map[string]any) Config {
	d := Defaults()

	getString := func(k, def string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
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
		}
		return def
	}

	return Config{
		TableName:     getString("table_name", d.TableName),
		Region:        getString("region", ""),
		Endpoint:      getString("endpoint", ""),
		TotalSegments: int(getInt64("total_segments", int64(d.TotalSegments))),
		Concurrency:   int(getInt64("concurrency", int64(d.Concurrency))),
		SkipErrors:    getBool("skip_errors", false),
		ReadCapacity:  getInt64("read_capacity", 0),
		WriteCapacity: getInt64("write_capacity", 0),
		CreateTimeout: getDur("create_timeout", d.CreateTimeout),
	}
}
