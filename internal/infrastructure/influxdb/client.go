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

	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
	// ErrConnectionFailed wraps a failed or unhealthy startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client writes sweep and session event points to one bucket.
// It is safe for concurrent use; writes never block the caller.
type Client struct {
	server   influxdb2.Client // nil when built around a bare write API
	writeAPI api.WriteAPI

	mu   sync.RWMutex // held for writing while closing
	open bool

	onError atomic.Pointer[func(error)]
}

// Connect pings the server and opens a batching write API on
// cfg.Org/cfg.Bucket. Every point is tagged service=serviceID.
func Connect(cfg config.InfluxDBConfig, serviceID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg, serviceID))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := newWithWriteAPI(server.WriteAPI(cfg.Org, cfg.Bucket))
	c.server = server
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func writeOptions(cfg config.InfluxDBConfig, serviceID string) *influxdb2.Options {
	batch := fallbackBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		AddDefaultTag("service", serviceID)
}

func newWithWriteAPI(writeAPI api.WriteAPI) *Client {
	return &Client{writeAPI: writeAPI, open: true}
}

func ping(ctx context.Context, server influxdb2.Client) error {
	healthy, err := server.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// forwardErrors hands async batch failures to the SetOnError callback.
// The channel closes with the server client.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// SetOnError registers the callback for failed batch writes.
func (c *Client) SetOnError(fn func(err error)) {
	c.onError.Store(&fn)
}

// IsConnected reports whether the client still accepts points.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// write queues p unless the client is closed.
func (c *Client) write(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.open {
		c.writeAPI.WritePoint(p)
	}
}

// HealthCheck pings the server, bounded by pingTimeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.server == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.server); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes buffered points and releases the connection. Points
// offered afterwards are discarded. Safe to call more than once.
func (c *Client) Close() error {
	if c == nil || c.writeAPI == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	c.writeAPI.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}
