package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/blesim-core/internal/infrastructure/config"
)

const (
	// measurement is where every device value update is stored.
	measurement = "device_values"

	// tagDeviceID identifies the board a point belongs to.
	tagDeviceID = "device_id"

	pingTimeout          = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

var errUnhealthy = errors.New("server not healthy")

// Logger receives asynchronous write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client is the device value history sink.
//
// Points are queued on the library's batched write API; WriteDeviceValues
// never blocks on the network. Write failures surface through the Logger.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI
	bucket string
	logger Logger

	closed    atomic.Bool
	closeOnce sync.Once
	failures  atomic.Int64
}

// Connect pings the server within ctx and prepares the batched writer.
//
// Returns ErrDisabled when history is switched off, and ErrConnectionFailed
// when the server cannot be reached or reports itself unhealthy. A nil
// logger discards write failures.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).                  // #nosec G115 -- positive
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
		logger: logger,
	}
	go c.drainErrors(c.writer.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := client.Ping(ctx)
	if err == nil && !ok {
		err = errUnhealthy
	}
	return err
}

// drainErrors logs write failures until the writer is closed.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		n := c.failures.Add(1)
		c.logger.Warn("history write failed",
			"bucket", c.bucket,
			"failures", n,
			"error", err,
		)
	}
}

// WriteDeviceValues records the numeric and boolean entries of a value
// update as one point tagged with the device ID. Other kinds are skipped;
// an update with nothing recordable writes nothing. No-op on a nil or
// closed client.
func (c *Client) WriteDeviceValues(deviceID string, values map[string]any) {
	if !c.IsConnected() {
		return
	}
	p := devicePoint(deviceID, values, time.Now())
	if p == nil {
		return
	}
	c.writer.WritePoint(p)
}

// devicePoint builds the point for one update, or nil when no field is
// storable. Integers are widened to float64 so a field keeps one type no
// matter how a producer encoded it.
func devicePoint(deviceID string, values map[string]any, ts time.Time) *write.Point {
	p := write.NewPointWithMeasurement(measurement).
		AddTag(tagDeviceID, deviceID).
		SetTime(ts)

	n := 0
	for k, v := range values {
		switch x := v.(type) {
		case float64:
			p.AddField(k, x)
		case float32:
			p.AddField(k, float64(x))
		case int:
			p.AddField(k, float64(x))
		case int32:
			p.AddField(k, float64(x))
		case int64:
			p.AddField(k, float64(x))
		case bool:
			p.AddField(k, x)
		default:
			continue
		}
		n++
	}
	if n == 0 {
		return nil
	}
	return p
}

// Flush blocks until queued points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Failures returns how many asynchronous writes have failed.
func (c *Client) Failures() int64 {
	if c == nil {
		return 0
	}
	return c.failures.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. A nil client never is.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Close flushes queued points and releases the client. Safe to call more
// than once and on a nil client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writer.Flush()
		c.client.Close()
	})
	return nil
}
