package mqtt

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used until SetKeepAlive is called.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// willMessage is the Last Will registered with the broker on connect.
type willMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// session holds the settings applied on the next connection attempt.
type session struct {
	host      string
	port      int
	keepAlive time.Duration
	will      willMessage
}

// newSession seeds session settings from config. The broker host may be
// empty here and supplied later through SetServer.
func newSession(cfg config.MQTTConfig) session {
	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	return session{
		host:      cfg.Broker.Host,
		port:      cfg.Broker.Port,
		keepAlive: keepAlive,
	}
}

// brokerURL returns the paho broker URL (tcp:// or ssl://). IPv6 hosts are
// bracketed and a zone's "%" is escaped so the URL parses.
func brokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	host = strings.Replace(host, "%", "%25", 1)
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// buildClientOptions creates paho MQTT options for a single connection attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Last Will (only when a will topic is set)
//   - TLS configuration (if enabled)
//   - Clean session mode
//
// Library auto-reconnect and connect-retry are disabled: retry timing is
// owned by the caller.
func buildClientOptions(cfg config.MQTTConfig, s session) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(s.host, s.port, cfg.Broker.TLS))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(s.keepAlive)

	if s.will.topic != "" {
		opts.SetWill(s.will.topic, s.will.payload, s.will.qos, s.will.retained)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
