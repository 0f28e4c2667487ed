package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/pbjx"
	memtransport "github.com/trickstertwo/pbjx/adapter/memory"
	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/eventstore/memory"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xlog"
)

var orderShipped = pbjx.NewEventSchema("pbj:acme:shop:event:order-shipped:1-0-0", []*pbj.Field{
	pbj.NewField("carrier", pbj.TypeString),
})

func shipped(id string, at pbj.Microtime) *pbj.Message {
	return pbj.New(orderShipped).
		Set(pbjx.FieldEventID, id).
		Set(pbjx.FieldOccurredAt, at).
		Set("carrier", "ups")
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pbjx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
store = "dynamodb"
transport = "redis-streams"

[dynamodb]
table_name = "acme_events"
total_segments = 32
create_timeout = "2m"

[redis]
addr = "10.0.0.5:6379"
group = "replayers"

[s3]
bucket = "acme-exports"
`), 0o600))

	cfg, err := loadConfig(path, env(map[string]string{
		"PBJX_AWS_REGION":     "eu-west-1",
		"PBJX_DYNAMODB_TABLE": "override_events",
		"PBJX_DEBUG":          "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, "redis-streams", cfg.Transport)
	assert.Equal(t, "acme-exports", cfg.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "10.0.0.5:6379", cfg.Redis["addr"])

	assert.Equal(t, "override_events", cfg.DynamoDB["table_name"])
	assert.Equal(t, "eu-west-1", cfg.DynamoDB["region"])
	assert.Equal(t, int64(32), cfg.DynamoDB["total_segments"])
}

func TestLoadConfig_MissingFileAndErrors(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"), env(nil))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	_, err = loadConfig("", env(map[string]string{"PBJX_STORE": "postgres"}))
	assert.ErrorContains(t, err, `unknown store "postgres"`)

	_, err = loadConfig("", env(map[string]string{"PBJX_DEBUG": "loud"}))
	assert.ErrorContains(t, err, "PBJX_DEBUG")

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("store = [oops"), 0o600))
	_, err = loadConfig(bad, env(nil))
	assert.Error(t, err)
}

func TestParseMicrotime(t *testing.T) {
	m, err := parseMicrotime("")
	require.NoError(t, err)
	assert.True(t, m.IsZero())

	m, err = parseMicrotime("1489129155504330")
	require.NoError(t, err)
	assert.Equal(t, pbj.Microtime(1489129155504330), m)

	m, err = parseMicrotime("1489129155.50433")
	require.NoError(t, err)
	assert.Equal(t, pbj.Microtime(1489129155504330), m)

	m, err = parseMicrotime("2024-05-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, pbj.NewMicrotime(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), m)

	_, err = parseMicrotime("yesterday")
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	id := eventstore.NewStreamID("order", "9")
	require.NoError(t, s.PutEvents(ctx, id, []*pbj.Message{shipped("a", 1), shipped("b", 2), shipped("c", 3)}, ""))

	p, err := pbjx.NewBuilder().WithTransportInstance(memtransport.NewTransport(memtransport.Config{})).Build()
	require.NoError(t, err)
	defer p.Close(ctx)

	var seen []string
	p.Subscribe(orderShipped.Curie(), func(_ context.Context, _ *pbjx.Pbjx, e *pbj.Message) error {
		assert.True(t, e.IsReplay())
		seen = append(seen, e.ID())
		return nil
	})

	n, err := replay(ctx, p, s.PipeEvents(ctx, id, 1, 0), false, xlog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"b", "c"}, seen)

	boom := errors.New("store offline")
	failing := func(yield func(*pbj.Message, error) bool) {
		if yield(shipped("d", 4), nil) {
			yield(nil, boom)
		}
	}
	n, err = replay(ctx, p, failing, true, xlog.Default())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestNewReplayPbjx(t *testing.T) {
	p, err := newReplayPbjx(defaultConfig(), xlog.Default())
	require.NoError(t, err)
	defer p.Close(context.Background())
	assert.Equal(t, memtransport.TransportName, p.Transport().Name())

	cfg := defaultConfig()
	cfg.Transport = "carrier-pigeon"
	_, err = newReplayPbjx(cfg, xlog.Default())
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestCommands_MemoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pbjx.toml")
	require.NoError(t, os.WriteFile(path, []byte("store = \"memory\"\n"), 0o600))

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append(args, "--config", path))
		err := rootCmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("describe-storage")
	require.NoError(t, err)
	assert.Contains(t, out, "memory event store: 0 streams, 0 events")

	_, err = run("create-storage")
	require.NoError(t, err)

	out, err = run("get-stream", "order:9", "--forward")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run("get-stream", "not-a-stream")
	assert.ErrorIs(t, err, eventstore.ErrInvalidStreamID)

	out, err = run("export-events")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run("replay-events", "order:9")
	require.NoError(t, err)
}
