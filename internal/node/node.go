package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/network"
	"github.com/nerrad567/gray-logic-node/internal/supervisor"
)

// Provisioner brings the host network up.
type Provisioner interface {
	AutoConnect(ctx context.Context) (net.IP, error)
}

// Locator resolves a broker endpoint at runtime.
type Locator interface {
	Locate(ctx context.Context) (network.Endpoint, error)
}

// Deps holds the collaborators of a Node. Config and Transport are required.
type Deps struct {
	Config      *config.Config
	Transport   supervisor.Transport
	Logger      *logging.Logger
	Observer    supervisor.Observer
	Clock       clock.WithTicker
	Provisioner Provisioner
	Locator     Locator
}

type heartbeat struct {
	enabled  bool
	topic    string
	payload  string
	interval time.Duration
}

// Node owns a Supervisor and drives it from a single loop.
type Node struct {
	sup    *supervisor.Supervisor
	clock  clock.WithTicker
	logger *logging.Logger
	prov   Provisioner
	loc    Locator

	mu        sync.Mutex
	cfg       *config.Config
	beat      heartbeat
	lastBeat  time.Time
	pollEvery time.Duration
}

// New builds a Node and its Supervisor from cfg.
func New(deps Deps) (*Node, error) {
	if deps.Config == nil {
		return nil, errors.New("node: config is required")
	}
	if deps.Transport == nil {
		return nil, errors.New("node: transport is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	cfg := deps.Config
	if deps.Provisioner == nil {
		deps.Provisioner = network.NewProvisioner(cfg.GetNetworkWaitTimeout(), deps.Logger)
	}
	if deps.Locator == nil {
		deps.Locator = network.NewLocator(cfg.Network.Discovery, deps.Logger)
	}

	sup := supervisor.New(deps.Transport, supervisor.Options{
		KeepAlive:      cfg.GetKeepAlive(),
		InitialDelay:   cfg.GetInitialDelay(),
		MaxDelay:       cfg.GetMaxDelay(),
		OnlinePayload:  cfg.MQTT.LWT.OnlinePayload,
		OfflinePayload: cfg.MQTT.LWT.OfflinePayload,
		Clock:          deps.Clock,
		Logger:         deps.Logger,
		Observer:       deps.Observer,
	})

	n := &Node{
		sup:    sup,
		clock:  deps.Clock,
		logger: deps.Logger,
		prov:   deps.Provisioner,
		loc:    deps.Locator,
	}
	n.setConfig(cfg)
	return n, nil
}

// Supervisor returns the node's connection supervisor.
func (n *Node) Supervisor() *supervisor.Supervisor {
	return n.sup
}

// Initialize waits for the network, resolves the broker and requests the
// first connection. A provisioning failure is fatal and returned before any
// MQTT activity.
func (n *Node) Initialize(ctx context.Context) error {
	if _, err := n.prov.AutoConnect(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	cfg := n.cfg
	n.lastBeat = n.clock.Now()
	n.mu.Unlock()

	host, port, err := n.resolveBroker(ctx, cfg)
	if err != nil {
		return err
	}

	if err := n.sup.SetServer(host, port); err != nil {
		return fmt.Errorf("configuring broker: %w", err)
	}
	n.sup.SetLWT(cfg.MQTT.LWT.Topic)
	n.sup.Connect()
	return nil
}

// resolveBroker prefers a discovered broker when discovery is enabled and
// falls back to the configured host.
func (n *Node) resolveBroker(ctx context.Context, cfg *config.Config) (string, int, error) {
	host, port := cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port
	if !cfg.Network.Discovery.Enabled && host != "" {
		return host, port, nil
	}

	ep, err := n.loc.Locate(ctx)
	if err == nil {
		return ep.Host, ep.Port, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("locating broker: %w", err)
	}

	n.logger.Warn("broker discovery failed, using configured host", "host", host, "error", err)
	return host, port, nil
}

// Poll drives one loop iteration: a gated reconnect, then the heartbeat if due.
func (n *Node) Poll() {
	n.sup.Reconnect()

	n.mu.Lock()
	beat := n.beat
	due := beat.enabled && n.clock.Since(n.lastBeat) >= beat.interval
	if due {
		n.lastBeat = n.clock.Now()
	}
	n.mu.Unlock()

	if due {
		// Failures are logged and observed by the supervisor.
		_ = n.sup.SendMessage(beat.topic, beat.payload)
	}
}

// Run calls Poll on every poll interval until ctx is cancelled, then closes
// the supervisor.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	every := n.pollEvery
	n.mu.Unlock()

	ticker := n.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return n.sup.Close()
		case <-ticker.C():
			n.Poll()
		}
	}
}

// ApplyConfig applies a reloaded configuration. Broker and LWT changes take
// effect on the next connection; the poll interval is fixed at Run.
func (n *Node) ApplyConfig(cfg *config.Config) {
	if host := cfg.MQTT.Broker.Host; host != "" && !cfg.Network.Discovery.Enabled {
		if err := n.sup.SetServer(host, cfg.MQTT.Broker.Port); err != nil {
			n.logger.Warn("ignoring broker change", "error", err)
		}
	}
	n.sup.SetLWT(cfg.MQTT.LWT.Topic)
	n.setConfig(cfg)

	n.logger.Info("configuration applied", "broker", n.sup.Broker().Address())
}

func (n *Node) setConfig(cfg *config.Config) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cfg = cfg
	n.beat = heartbeat{
		enabled:  cfg.Heartbeat.Enabled,
		topic:    cfg.Heartbeat.Topic,
		payload:  cfg.Heartbeat.Payload,
		interval: cfg.GetHeartbeatInterval(),
	}
	if n.pollEvery == 0 {
		n.pollEvery = cfg.GetPollInterval()
		if n.pollEvery <= 0 {
			n.pollEvery = time.Second
		}
	}
}
