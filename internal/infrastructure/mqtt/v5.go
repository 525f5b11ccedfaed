package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	paholog "github.com/eclipse/paho.golang/paho/log"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// V5Client is an asynchronous MQTT 5 transport built on paho.golang.
//
// It offers the same contract as Client: Connect returns immediately,
// outcomes arrive through the OnConnect/OnDisconnect handlers, and no
// reconnection is attempted by the client itself.
type V5Client struct {
	cfg config.MQTTConfig

	mu         sync.Mutex
	session    session
	client     *paho.Client
	connected  bool
	connecting bool

	onConnect    func()
	onDisconnect func(err error)

	logger    Logger
	errorsLog paholog.Logger
}

// NewV5Client creates a disconnected MQTT 5 client.
func NewV5Client(cfg config.MQTTConfig) *V5Client {
	return &V5Client{
		cfg:     cfg,
		session: newSession(cfg),
	}
}

// SetServer sets the broker used by the next Connect.
func (c *V5Client) SetServer(host string, port int) {
	c.mu.Lock()
	c.session.host = host
	c.session.port = port
	c.mu.Unlock()
}

// SetKeepAlive sets the keep-alive used by the next Connect.
func (c *V5Client) SetKeepAlive(d time.Duration) {
	c.mu.Lock()
	c.session.keepAlive = d
	c.mu.Unlock()
}

// SetWill sets the Last Will registered by the next Connect.
// An empty topic registers no will.
func (c *V5Client) SetWill(topic string, qos byte, retained bool, payload string) {
	c.mu.Lock()
	c.session.will = willMessage{topic: topic, qos: qos, retained: retained, payload: payload}
	c.mu.Unlock()
}

// Connect starts an asynchronous connection attempt.
func (c *V5Client) Connect() {
	c.mu.Lock()
	if c.connecting || c.connected {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	s := c.session
	c.mu.Unlock()

	go c.connect(s)
}

func (c *V5Client) connect(s session) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx, s)
	if err != nil {
		c.connectFailed(err)
		return
	}

	var client *paho.Client
	client = paho.NewClient(paho.ClientConfig{
		ClientID: c.cfg.Broker.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			c.lost(client, err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.lost(client, fmt.Errorf("server sent disconnect (reason %d)", d.ReasonCode))
		},
	})

	c.mu.Lock()
	if c.errorsLog != nil {
		client.SetErrorLogger(c.errorsLog)
	}
	c.mu.Unlock()

	if _, err := client.Connect(ctx, buildConnectPacket(c.cfg, s)); err != nil {
		_ = conn.Close()
		c.connectFailed(err)
		return
	}

	c.mu.Lock()
	select {
	case <-client.Done():
		// Dropped between CONNACK and here.
		c.connecting = false
		callback := c.onDisconnect
		c.mu.Unlock()
		if callback != nil {
			callback(fmt.Errorf("%w: closed after handshake", ErrConnectionLost))
		}
		return
	default:
	}
	c.client = client
	c.connected = true
	c.connecting = false
	callback := c.onConnect
	c.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// dial opens the network connection to the broker, using TLS if configured.
func (c *V5Client) dial(ctx context.Context, s session) (net.Conn, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if c.cfg.Broker.TLS {
		d := tls.Dialer{Config: &tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: s.host,
		}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// buildConnectPacket creates the CONNECT packet for a single attempt.
func buildConnectPacket(cfg config.MQTTConfig, s session) *paho.Connect {
	keepAlive := s.keepAlive / time.Second
	if keepAlive > math.MaxUint16 {
		keepAlive = math.MaxUint16
	}

	cp := &paho.Connect{
		ClientID:   cfg.Broker.ClientID,
		KeepAlive:  uint16(keepAlive), //nolint:gosec // clamped above
		CleanStart: true,
	}

	if cfg.Auth.Username != "" {
		cp.UsernameFlag = true
		cp.Username = cfg.Auth.Username
		cp.PasswordFlag = true
		cp.Password = []byte(cfg.Auth.Password)
	}

	if s.will.topic != "" {
		cp.WillMessage = &paho.WillMessage{
			Topic:   s.will.topic,
			QoS:     s.will.qos,
			Retain:  s.will.retained,
			Payload: []byte(s.will.payload),
		}
	}

	return cp
}

func (c *V5Client) connectFailed(err error) {
	c.mu.Lock()
	c.connecting = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}
}

// lost handles errors from a paho client. Errors from a client that is no
// longer current (or was closed by Disconnect) are ignored.
func (c *V5Client) lost(client *paho.Client, err error) {
	c.mu.Lock()
	if !c.connected || c.client != client {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.client = nil
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	}
}

// Connected reports whether a session is currently open.
func (c *V5Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Publish sends a message on the current session. QoS 0 publishes return
// once the packet is written.
func (c *V5Client) Publish(topic string, qos byte, retained bool, payload string) error {
	if err := validatePublish(topic, qos, payload); err != nil {
		return err
	}

	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()
	if !connected || client == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retained,
		Payload: []byte(payload),
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Disconnect sends DISCONNECT (normal disconnection, so the broker
// discards the will) and closes the session. The disconnect handler is
// not invoked.
func (c *V5Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT disconnect failed", "error", err)
		}
	}
}

// OnConnect sets a callback to be invoked when a connection is established.
func (c *V5Client) OnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// OnDisconnect sets a callback to be invoked when an attempt fails or the
// connection is lost.
func (c *V5Client) OnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets a logger for client-side failures.
func (c *V5Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetErrorLogger routes paho.golang's internal error log for future sessions.
func (c *V5Client) SetErrorLogger(l paholog.Logger) {
	c.mu.Lock()
	c.errorsLog = l
	c.mu.Unlock()
}

func (c *V5Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}
