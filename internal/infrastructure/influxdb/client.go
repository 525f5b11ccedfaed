package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client is the node's connection telemetry sink.
//
// Points are batched by the library's non-blocking write API; nothing is
// written once Close has been called.
type Client struct {
	influx   influxdb2.Client
	writeAPI api.WriteAPI
	now      func() time.Time

	mu      sync.RWMutex
	closed  bool
	onError func(err error)
}

// Connect pings the server and opens a write API for cfg.Org/cfg.Bucket.
// Every point carries a node tag set to nodeID.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, nodeID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg, nodeID))

	c := &Client{influx: influx, now: time.Now}
	if err := c.ping(ctx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.writeAPI = influx.WriteAPI(cfg.Org, cfg.Bucket)
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// writeOptions maps the batch settings onto the library options.
func writeOptions(cfg config.InfluxDBConfig, nodeID string) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())).
		AddDefaultTag(tagNode, nodeID)
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := c.influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping: server not ready")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()

		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// HealthCheck pings the server. It reports ErrNotConnected after Close.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.isClosed() {
		return ErrNotConnected
	}
	return c.ping(ctx)
}

// Close flushes buffered points and releases the client. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.influx.Close()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// write queues a point stamped with the current time.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if c.isClosed() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}

// flush sends buffered points now. No-op after Close.
func (c *Client) flush() {
	if c.isClosed() {
		return
	}
	c.writeAPI.Flush()
}
