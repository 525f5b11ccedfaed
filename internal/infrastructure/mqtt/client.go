package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// Client is an asynchronous MQTT 3.1.1 transport built on paho.mqtt.golang.
//
// Connect returns immediately; the outcome is reported through the
// handlers set with OnConnect and OnDisconnect. A failed attempt is
// reported as a disconnect wrapping ErrConnectionFailed. The client never
// reconnects on its own.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Handlers run on paho goroutines, never under the client's lock.
type Client struct {
	cfg config.MQTTConfig

	mu         sync.Mutex
	session    session
	client     pahomqtt.Client
	connecting bool

	// Callbacks for connection events (optional, set via OnConnect/OnDisconnect).
	onConnect    func()
	onDisconnect func(err error)

	// logger for asynchronous publish failures (optional, set via SetLogger).
	logger Logger
}

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// NewClient creates a disconnected client. Broker host, port and keep-alive
// are seeded from cfg and may be overridden before each Connect.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:     cfg,
		session: newSession(cfg),
	}
}

// SetServer sets the broker used by the next Connect.
func (c *Client) SetServer(host string, port int) {
	c.mu.Lock()
	c.session.host = host
	c.session.port = port
	c.mu.Unlock()
}

// SetKeepAlive sets the keep-alive used by the next Connect.
func (c *Client) SetKeepAlive(d time.Duration) {
	c.mu.Lock()
	c.session.keepAlive = d
	c.mu.Unlock()
}

// SetWill sets the Last Will registered by the next Connect.
// An empty topic registers no will.
func (c *Client) SetWill(topic string, qos byte, retained bool, payload string) {
	c.mu.Lock()
	c.session.will = willMessage{topic: topic, qos: qos, retained: retained, payload: payload}
	c.mu.Unlock()
}

// Connect starts an asynchronous connection attempt.
//
// paho options are frozen at client creation, so every attempt builds a
// fresh paho client from the current session settings. Calls made while
// an attempt is in flight or a session is open are ignored.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.connecting || (c.client != nil && c.client.IsConnectionOpen()) {
		c.mu.Unlock()
		return
	}

	opts := buildClientOptions(c.cfg, c.session)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})

	client := pahomqtt.NewClient(opts)
	c.client = client
	c.connecting = true
	c.mu.Unlock()

	token := client.Connect()
	go c.awaitConnect(token)
}

// awaitConnect reports a failed attempt once paho settles the connect token.
// Success is reported by the OnConnect handler instead.
func (c *Client) awaitConnect(token pahomqtt.Token) {
	<-token.Done()

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if err := token.Error(); err != nil {
		c.handleDisconnect(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connecting = false
	callback := c.onConnect
	c.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when an attempt fails or the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Disconnect closes the current session, if any, after a short quiesce
// period for pending publishes. The disconnect handler is not invoked.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// OnConnect sets a callback to be invoked when a connection is established.
func (c *Client) OnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// OnDisconnect sets a callback to be invoked when an attempt fails or the
// connection is lost. The error parameter describes why.
func (c *Client) OnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets a logger for asynchronous publish failures.
// If not set, they are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// currentClient returns the paho client if a session is open.
func (c *Client) currentClient() (pahomqtt.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil, false
	}
	return c.client, true
}
