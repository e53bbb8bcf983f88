package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
)

// Logger receives connection and publish failures. *slog.Logger and
// *logging.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is a publish-only broker connection. It keeps a retained
// online/offline record on gatekeeper/system/status, with a Last Will
// covering crashes, and reconnects on its own. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	up atomic.Bool // last state reported by paho callbacks

	mu           sync.RWMutex // guards the hooks below
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Connect dials the broker and waits up to defaultConnectTimeout for the
// first CONNACK. Later drops are retried in the background.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect hook may not have run yet.
	c.up.Store(true)
	return c, nil
}

func newWithClient(cfg config.MQTTConfig, pc pahomqtt.Client) *Client {
	c := &Client{cfg: cfg, client: pc}
	c.up.Store(pc.IsConnected())
	return c
}

// publishStatus writes the retained status record. It waits for the
// broker only when wait is set.
func (c *Client) publishStatus(status, reason string, wait bool) {
	token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		buildStatusPayload(c.cfg.Broker.ClientID, status, reason))
	if wait {
		token.WaitTimeout(defaultPublishTimeout)
	}
}

// handleConnect runs on the first connection and every reconnect. The
// online record replaces any Last Will the broker fired meanwhile.
func (c *Client) handleConnect() {
	c.up.Store(true)
	c.publishStatus(statusOnline, "", false)

	c.mu.RLock()
	hook := c.onConnect
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.up.Store(false)

	c.mu.RLock()
	logger, hook := c.logger, c.onDisconnect
	c.mu.RUnlock()
	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if hook != nil {
		hook(err)
	}
}

// Close records a graceful offline status, then disconnects. Nil and
// never-connected clients close cleanly.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonGraceful, true)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// HealthCheck fails with ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected is false for a nil client.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && c.up.Load() && c.client.IsConnected()
}

// SetOnConnect registers a hook run after each (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where connection and publish failures are reported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}
