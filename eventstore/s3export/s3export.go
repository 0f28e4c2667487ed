// Package s3export copies events out of an EventStore into an S3 object as
// newline-delimited JSON, one event per line.
package s3export

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const ContentType = "application/x-ndjson"

// Client is the part of *s3.Client the exporter uses.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ Client = (*s3.Client)(nil)

// Config selects the destination object.
type Config struct {
	Bucket string
	// Key of the object. Empty means events/<unix micros>.ndjson at export time.
	Key string
	// Region and Endpoint are used by New when it loads the AWS config. A
	// custom Endpoint switches to path-style addressing (MinIO and similar).
	Region   string
	Endpoint string
}

// Exporter writes NDJSON exports to S3.
type Exporter struct {
	cfg    Config
	client Client
	clock  xclock.Clock
	logger *xlog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithLogger(l *xlog.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// WithClock sets the clock used to name objects when Config.Key is empty.
func WithClock(c xclock.Clock) Option {
	return func(e *Exporter) { e.clock = c }
}

// New loads the AWS config and returns an exporter backed by a new client.
func New(ctx context.Context, cfg Config, opts ...Option) (*Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3export: bucket required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return NewWithClient(cfg, s3.NewFromConfig(awsCfg, s3opts...), opts...), nil
}

// NewWithClient returns an exporter using client.
func NewWithClient(cfg Config, client Client, opts ...Option) *Exporter {
	e := &Exporter{cfg: cfg, client: client}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	if e.clock == nil {
		e.clock = xclock.Default()
	}
	if e.logger == nil {
		e.logger = xlog.Default()
	}
	return e
}

// Result describes a finished export.
type Result struct {
	Bucket string
	Key    string
	Events int
	Bytes  int
}

// Export pipes every event of store with since < occurred_at < until into
// the object. The object is only written when the whole pipe succeeded.
func (e *Exporter) Export(ctx context.Context, store eventstore.EventStore, since, until pbj.Microtime) (Result, error) {
	key := e.cfg.Key
	if key == "" {
		key = fmt.Sprintf("events/%d.ndjson", e.clock.Now().UnixMicro())
	}
	res := Result{Bucket: e.cfg.Bucket, Key: key}

	var buf bytes.Buffer
	n, err := WriteNDJSON(&buf, store.PipeAllEvents(ctx, since, until))
	if err != nil {
		return res, fmt.Errorf("s3export: pipe events: %w", err)
	}
	res.Events, res.Bytes = n, buf.Len()

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		return res, fmt.Errorf("s3 put object: %w", err)
	}

	e.logger.With(
		xlog.Str("bucket", res.Bucket),
		xlog.Str("key", res.Key),
		xlog.Str("events", fmt.Sprint(res.Events)),
	).Info().Msg("s3export: export written")
	return res, nil
}

// WriteNDJSON writes each event of seq as one JSON line and returns the
// number written. It stops at the first error from seq or w.
func WriteNDJSON(w io.Writer, seq iter.Seq2[*pbj.Message, error]) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for event, err := range seq {
		if err != nil {
			return n, err
		}
		line, err := event.MarshalJSON()
		if err != nil {
			return n, fmt.Errorf("marshal event %s: %w", event.ID(), err)
		}
		if _, err := bw.Write(append(line, '\n')); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}
