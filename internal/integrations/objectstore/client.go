package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

const (
	maxPageSize   = 1000
	maxObjectSize = 8 << 20
)

var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("objectstore: object not found")
	// ErrUnavailable is returned without calling S3 while the circuit breaker is open.
	ErrUnavailable = errors.New("objectstore: store unavailable")
)

// s3API is the minimal S3 interface required by Client.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object is one listed key.
type Object struct {
	Key          string
	LastModified time.Time
}

// Client reads discussion objects from a single bucket.
type Client struct {
	api     s3API
	bucket  string
	breaker circuitbreaker.CircuitBreaker[any]
}

type Option func(*Client)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb circuitbreaker.CircuitBreaker[any]) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New creates a Client for bucket. Unless overridden, S3 calls are guarded by
// a breaker that opens at a 60% failure rate over 10s and probes again after 30s.
func New(api s3API, bucket string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("objectstore: api must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("objectstore: bucket must not be empty")
	}
	c := &Client{api: api, bucket: bucket}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = defaultBreaker()
	}
	return c, nil
}

// Default breaker policy: open when at least breakerFailurePercent of the
// calls in breakerWindow fail, once breakerMinCalls calls were made.
const (
	breakerFailurePercent uint = 60
	breakerMinCalls       uint = 5
	breakerWindow              = 10 * time.Second
	breakerDelay               = 30 * time.Second
)

func defaultBreaker() circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.Builder[any]().
		WithFailureRateThreshold(breakerFailurePercent, breakerMinCalls, breakerWindow).
		WithDelay(breakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("circuit breaker state changed",
				"component", "s3",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()
}

// List returns keys under prefix in S3 listing order. limit <= 0 lists every
// page; otherwise listing stops once limit keys are collected.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]Object, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if limit > 0 && limit < maxPageSize {
		in.MaxKeys = aws.Int32(int32(limit))
	}

	objects := make([]Object, 0)
	err := c.guard(func() error {
		pager := s3.NewListObjectsV2Paginator(c.api, in)
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, obj := range page.Contents {
				if obj.Key == nil {
					continue
				}
				objects = append(objects, Object{
					Key:          *obj.Key,
					LastModified: aws.ToTime(obj.LastModified),
				})
				if limit > 0 && len(objects) >= limit {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: List %q: %w", prefix, err)
	}
	return objects, nil
}

// Metadata returns the user metadata of key, with lower-cased names.
func (c *Client) Metadata(ctx context.Context, key string) (map[string]string, error) {
	var meta map[string]string
	err := c.guard(func() error {
		out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return mapNotFound(err)
		}
		meta = make(map[string]string, len(out.Metadata))
		for k, v := range out.Metadata {
			meta[strings.ToLower(k)] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: Metadata %q: %w", key, err)
	}
	return meta, nil
}

// Get reads the full body of key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := c.guard(func() error {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return mapNotFound(err)
		}
		defer func() { _ = out.Body.Close() }()

		body, err = io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if len(body) > maxObjectSize {
			return fmt.Errorf("object exceeds %d bytes", maxObjectSize)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: Get %q: %w", key, err)
	}
	return body, nil
}

// guard runs fn through the breaker. Missing keys count as successful calls.
func (c *Client) guard(fn func() error) error {
	if !c.breaker.TryAcquirePermit() {
		return ErrUnavailable
	}
	err := fn()
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return err
}

func mapNotFound(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
