package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap/zapcore"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

// Transport is the capability set shared by Client and V5Client.
type Transport interface {
	SetServer(host string, port int)
	SetKeepAlive(d time.Duration)
	SetWill(topic string, qos byte, retained bool, payload string)
	Connect()
	Connected() bool
	Publish(topic string, qos byte, retained bool, payload string) error
	Disconnect()
	OnConnect(fn func())
	OnDisconnect(fn func(err error))
}

var (
	_ Transport = (*Client)(nil)
	_ Transport = (*V5Client)(nil)
)

// New returns the transport for cfg.Protocol with logging wired in.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - logger: receives client-side failures and paho's internal error log
//
// Returns:
//   - Transport: a disconnected client
//   - error: ErrUnsupportedProtocol for an unknown protocol version
func New(cfg config.MQTTConfig, logger *logging.Logger) (Transport, error) {
	switch cfg.Protocol {
	case "", config.ProtocolV311:
		RouteLibraryLogs(logger)
		c := NewClient(cfg)
		c.SetLogger(logger)
		return c, nil
	case config.ProtocolV5:
		c := NewV5Client(cfg)
		c.SetLogger(logger)
		c.SetErrorLogger(logger.StdLog(zapcore.ErrorLevel))
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, cfg.Protocol)
	}
}

var routeOnce sync.Once

// RouteLibraryLogs sends paho.mqtt.golang's package-level ERROR, CRITICAL
// and WARN output through logger. paho's loggers are process-wide, so only
// the first call takes effect.
func RouteLibraryLogs(logger *logging.Logger) {
	routeOnce.Do(func() {
		pahomqtt.ERROR = logger.StdLog(zapcore.ErrorLevel)
		pahomqtt.CRITICAL = logger.StdLog(zapcore.ErrorLevel)
		pahomqtt.WARN = logger.StdLog(zapcore.WarnLevel)
	})
}
