// Package mqtt provides asynchronous MQTT transports for the Gray Logic node.
//
// Two implementations share the Transport capability set:
//   - Client: MQTT 3.1.1 on paho.mqtt.golang
//   - V5Client: MQTT 5 on paho.golang
//
// Both are thin. Connect never blocks and never retries; the
// result of each attempt is delivered to the OnConnect or OnDisconnect
// handler, and retry timing belongs to the caller (see package supervisor).
// Broker, keep-alive and Last Will may change between attempts and are
// applied on the next Connect.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	transport, err := mqtt.New(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	transport.OnConnect(func() { log.Info("up") })
//	transport.OnDisconnect(func(err error) { log.Warn("down", "error", err) })
//	transport.SetServer("10.0.0.5", 1883)
//	transport.SetWill("dev/status", 0, true, "off")
//	transport.Connect()
package mqtt
