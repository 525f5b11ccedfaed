package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Protocol versions accepted in mqtt.protocol.
const (
	ProtocolV311 = "3.1.1"
	ProtocolV5   = "5"
)

// clientIDPrefix is prepended to generated client IDs.
const clientIDPrefix = "graylogic-node-"

// Config is the root configuration structure for the Gray Logic node agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Network   NetworkConfig   `yaml:"network"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`

	// PollInterval is how often the node loop drives reconnect and heartbeat (milliseconds).
	PollInterval int `yaml:"poll_interval"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Protocol selects the transport: "3.1.1" (default) or "5".
	Protocol  string              `yaml:"protocol"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	LWT       MQTTLWTConfig       `yaml:"lwt"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTLWTConfig configures the Last Will and Testament and the status payloads
// published on the same topic.
type MQTTLWTConfig struct {
	// Topic is optional. When empty no will is registered and no online status is sent.
	Topic          string `yaml:"topic"`
	OnlinePayload  string `yaml:"online_payload"`
	OfflinePayload string `yaml:"offline_payload"`
}

// MQTTReconnectConfig contains the reconnect backoff bounds in milliseconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// NetworkConfig contains network provisioning settings.
type NetworkConfig struct {
	// WaitTimeout is how long to wait for a usable network address (seconds).
	WaitTimeout int             `yaml:"wait_timeout"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
}

// DiscoveryConfig controls mDNS broker discovery.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Service   string `yaml:"service"`
	Domain    string `yaml:"domain"`
	Interface string `yaml:"interface"`
	Timeout   int    `yaml:"timeout"`
}

// HeartbeatConfig configures the periodic message sent while the node runs.
type HeartbeatConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Topic    string `yaml:"topic"`
	Payload  string `yaml:"payload"`
	Interval int    `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains the status HTTP server settings (health, status,
// Prometheus metrics and the WebSocket event stream).
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP server timeouts (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Generated values (client ID when none is set)
//
// Environment variables follow the pattern: GRAYLOGIC_NODE_SECTION_KEY
// For example: GRAYLOGIC_NODE_MQTT_HOST, GRAYLOGIC_NODE_LWT_TOPIC
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = GenerateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID: "node-001",
		},
		MQTT: MQTTConfig{
			Protocol: ProtocolV311,
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			LWT: MQTTLWTConfig{
				OnlinePayload:  "on",
				OfflinePayload: "off",
			},
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1000,
				MaxDelay:     32000,
			},
		},
		Network: NetworkConfig{
			WaitTimeout: 30,
			Discovery: DiscoveryConfig{
				Service: "_mqtt._tcp",
				Domain:  "local.",
				Timeout: 5,
			},
		},
		Heartbeat: HeartbeatConfig{
			Interval: 10,
		},
		PollInterval: 1000,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9464,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
	}
}

// GenerateClientID returns a client ID unique to this process.
func GenerateClientID() string {
	return clientIDPrefix + uuid.NewString()[:8]
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_NODE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_NODE_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("GRAYLOGIC_NODE_LWT_TOPIC"); v != "" {
		cfg.MQTT.LWT.Topic = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_NODE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	// MQTT validation
	switch c.MQTT.Protocol {
	case ProtocolV311, ProtocolV5:
	default:
		errs = append(errs, fmt.Sprintf("mqtt.protocol must be %q or %q", ProtocolV311, ProtocolV5))
	}
	if c.MQTT.Broker.Host == "" && !c.Network.Discovery.Enabled {
		errs = append(errs, "mqtt.broker.host is required unless network.discovery is enabled")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.KeepAlive < 1 {
		errs = append(errs, "mqtt.keep_alive must be at least 1 second")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be positive")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must not be below initial_delay")
	}

	if c.PollInterval < 1 {
		errs = append(errs, "poll_interval must be positive")
	}

	if c.Heartbeat.Enabled {
		if c.Heartbeat.Topic == "" {
			errs = append(errs, "heartbeat.topic is required when heartbeat is enabled")
		}
		if c.Heartbeat.Interval < 1 {
			errs = append(errs, "heartbeat.interval must be at least 1 second")
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
			errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAlive returns the MQTT keep-alive as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.MQTT.KeepAlive) * time.Second
}

// GetInitialDelay returns the first reconnect backoff interval.
func (c *Config) GetInitialDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Millisecond
}

// GetMaxDelay returns the reconnect backoff cap.
func (c *Config) GetMaxDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Millisecond
}

// GetPollInterval returns the node loop interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.Interval) * time.Second
}

// GetNetworkWaitTimeout returns the provisioning timeout as a Duration.
func (c *Config) GetNetworkWaitTimeout() time.Duration {
	return time.Duration(c.Network.WaitTimeout) * time.Second
}

// GetDiscoveryTimeout returns the mDNS browse timeout as a Duration.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.Network.Discovery.Timeout) * time.Second
}
