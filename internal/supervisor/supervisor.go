package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"
)

const (
	// DefaultKeepAlive is the keep-alive configured on every connect.
	DefaultKeepAlive = 60 * time.Second

	// DefaultPort is the broker port used until SetServer is called.
	DefaultPort = 1883

	// Status payloads published on the LWT topic.
	DefaultOnlinePayload  = "on"
	DefaultOfflinePayload = "off"

	// qosAtMostOnce is used for the will and every publish.
	qosAtMostOnce byte = 0

	minPort = 1
	maxPort = 65535
)

// Transport is the asynchronous MQTT client the supervisor drives.
//
// Connect must not block; the outcome is reported through the handlers
// registered with OnConnect and OnDisconnect. A failed connection attempt is
// reported as a disconnect. Handlers may be invoked from any goroutine,
// including synchronously from within Connect.
type Transport interface {
	SetServer(host string, port int)
	SetKeepAlive(d time.Duration)
	// SetWill registers the Last Will message; an empty topic clears it.
	SetWill(topic string, qos byte, retained bool, payload string)
	Connect()
	Connected() bool
	Publish(topic string, qos byte, retained bool, payload string) error
	Disconnect()
	OnConnect(fn func())
	OnDisconnect(fn func(err error))
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BrokerConfig is the broker and status-topic configuration owned by a Supervisor.
type BrokerConfig struct {
	Server         string
	Port           int
	LWTTopic       string
	OnlinePayload  string
	OfflinePayload string
}

// Address returns server:port.
func (b BrokerConfig) Address() string {
	return net.JoinHostPort(b.Server, strconv.Itoa(b.Port))
}

// Options configures a Supervisor. Zero values select the defaults.
type Options struct {
	KeepAlive      time.Duration
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	OnlinePayload  string
	OfflinePayload string

	Clock    clock.PassiveClock
	Logger   Logger
	Observer Observer
}

func (o *Options) applyDefaults() {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.OnlinePayload == "" {
		o.OnlinePayload = DefaultOnlinePayload
	}
	if o.OfflinePayload == "" {
		o.OfflinePayload = DefaultOfflinePayload
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
}

// Supervisor keeps a single broker session alive over an asynchronous transport.
//
// Reconnects are cooperative: the owner calls Reconnect periodically and
// the supervisor decides whether the current backoff window has elapsed.
// The window starts at InitialDelay, doubles on every attempt up to
// MaxDelay, and returns to InitialDelay only when a connection succeeds.
// A session loss does not reset it.
//
// Thread Safety:
//   - All methods are safe for concurrent use; transport callbacks may
//     arrive on library goroutines.
//   - No lock is held while calling into the transport.
type Supervisor struct {
	transport Transport
	clock     clock.PassiveClock
	logger    Logger
	observer  Observer
	keepAlive time.Duration

	mu     sync.Mutex
	broker BrokerConfig
	retry  *retryState
	closed bool

	state *fsm.FSM
}

// New creates a Supervisor and registers its connect/disconnect handlers
// with the transport. The retry window is measured from construction time.
func New(transport Transport, opts Options) *Supervisor {
	opts.applyDefaults()

	s := &Supervisor{
		transport: transport,
		clock:     opts.Clock,
		logger:    opts.Logger,
		observer:  opts.Observer,
		keepAlive: opts.KeepAlive,
		broker: BrokerConfig{
			Port:           DefaultPort,
			OnlinePayload:  opts.OnlinePayload,
			OfflinePayload: opts.OfflinePayload,
		},
		retry: newRetryState(opts.InitialDelay, opts.MaxDelay, opts.Clock.Now()),
	}
	s.state = newStateMachine(func(from, to State) {
		s.logger.Debug("connection state changed", "from", from, "to", to)
	})

	transport.OnConnect(s.handleConnect)
	transport.OnDisconnect(s.handleDisconnect)

	return s
}

// SetServer stores the broker address and port used by the next Connect.
// No I/O is performed.
func (s *Supervisor) SetServer(address string, port int) error {
	if address == "" {
		return ErrInvalidServer
	}
	if port < minPort || port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, port)
	}

	s.mu.Lock()
	s.broker.Server = address
	s.broker.Port = port
	s.mu.Unlock()
	return nil
}

// SetLWT stores the topic used for the Last Will and for online/offline status.
// An empty topic disables both.
func (s *Supervisor) SetLWT(topic string) {
	s.mu.Lock()
	s.broker.LWTTopic = topic
	s.mu.Unlock()
}

// Connect configures the transport and requests an asynchronous connection.
// It is a no-op while connected and does not touch the retry window.
func (s *Supervisor) Connect() {
	if s.transport.Connected() {
		return
	}

	s.mu.Lock()
	closed := s.closed
	broker := s.broker
	s.mu.Unlock()

	if closed {
		return
	}
	if broker.Server == "" {
		s.logger.Warn("MQTT broker not configured, skipping connect")
		return
	}

	s.logger.Info("connecting to MQTT broker", "server", broker.Address())

	s.transport.SetServer(broker.Server, broker.Port)
	s.transport.SetKeepAlive(s.keepAlive)
	s.transport.SetWill(broker.LWTTopic, qosAtMostOnce, true, broker.OfflinePayload)
	s.transport.Connect()
}

// Reconnect attempts a connection if the transport is down and the backoff
// window since the last attempt has elapsed. It never blocks.
func (s *Supervisor) Reconnect() {
	if s.transport.Connected() {
		return
	}

	s.mu.Lock()
	if s.closed || !s.retry.due(s.clock) {
		s.mu.Unlock()
		return
	}
	// Advance before connecting so a synchronous success callback, which
	// resets the window, is not overwritten.
	next := s.retry.advance(s.clock.Now())
	attempt := s.retry.attempts
	s.mu.Unlock()

	s.logger.Info("attempting MQTT reconnect", "attempt", attempt, "next_delay", next)
	s.observer.ConnectAttempt(next)

	s.Connect()
}

// SendMessage publishes payload to topic (QoS 0, retained).
//
// While disconnected nothing is published, a reconnect is attempted
// (subject to backoff) and ErrNotConnected is returned, whatever the topic.
func (s *Supervisor) SendMessage(topic, payload string) error {
	if !s.transport.Connected() {
		s.logger.Warn("MQTT not connected, message not sent", "topic", topic)
		s.observer.PublishFailed(topic, ErrNotConnected)
		s.Reconnect()
		return ErrNotConnected
	}

	if topic == "" {
		return ErrInvalidTopic
	}

	if err := s.transport.Publish(topic, qosAtMostOnce, true, payload); err != nil {
		err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		s.logger.Error("MQTT publish failed", "topic", topic, "error", err)
		s.observer.PublishFailed(topic, err)
		return err
	}

	s.logger.Info("MQTT message sent", "topic", topic, "payload", payload)
	s.observer.Published(topic)
	return nil
}

// IsConnected reports the transport's connection status.
func (s *Supervisor) IsConnected() bool {
	return s.transport.Connected()
}

// Close publishes the offline payload (if connected), disconnects the
// transport and stops all further reconnects. It is idempotent.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	broker := s.broker
	s.mu.Unlock()

	if s.transport.Connected() && broker.LWTTopic != "" {
		if err := s.transport.Publish(broker.LWTTopic, qosAtMostOnce, true, broker.OfflinePayload); err != nil {
			s.logger.Warn("failed to publish offline status", "topic", broker.LWTTopic, "error", err)
		}
	}
	s.transport.Disconnect()
	s.transition(eventDown)

	s.logger.Info("MQTT supervisor closed")
	return nil
}

// handleConnect runs when the transport reports a completed handshake.
func (s *Supervisor) handleConnect() {
	s.mu.Lock()
	closed := s.closed
	s.retry.reset()
	broker := s.broker
	s.mu.Unlock()

	if closed {
		// An attempt issued before Close completed; drop it.
		s.transport.Disconnect()
		return
	}

	s.transition(eventUp)
	s.logger.Info("connected to MQTT broker", "server", broker.Address())
	s.observer.Connected()

	if broker.LWTTopic != "" {
		// Failures are logged and observed by SendMessage.
		_ = s.SendMessage(broker.LWTTopic, broker.OnlinePayload)
	}
}

// handleDisconnect runs on every disconnect, including failed attempts.
// The retry window is left as is.
func (s *Supervisor) handleDisconnect(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	s.transition(eventDown)
	if closed {
		return
	}

	s.logger.Warn("disconnected from MQTT broker", "error", err)
	s.observer.Disconnected(err)

	s.Reconnect()
}

// transition fires a state machine event. Events that do not apply to the
// current state (a failed attempt while already disconnected) are ignored.
func (s *Supervisor) transition(event string) {
	err := s.state.Event(context.Background(), event)
	if err == nil {
		return
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return
	}
	s.logger.Debug("connection state transition failed", "event", event, "error", err)
}

// State returns the connection state as last observed through the transport callbacks.
func (s *Supervisor) State() State {
	return State(s.state.Current())
}

// Broker returns a copy of the current broker configuration.
func (s *Supervisor) Broker() BrokerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker
}

// Delay returns the current backoff window.
func (s *Supervisor) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry.delay
}

// LastAttempt returns the time of the last reconnect attempt, or the
// construction time if none has been made.
func (s *Supervisor) LastAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry.last
}

// Attempts returns the number of reconnect attempts since the last successful connection.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry.attempts
}
