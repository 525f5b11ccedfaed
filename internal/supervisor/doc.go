// Package supervisor keeps a single MQTT broker session alive.
//
// A Supervisor owns the broker configuration (server, port, LWT topic and
// the online/offline payloads) and drives an asynchronous Transport. It
// never retries on its own timer: the owner polls Reconnect, and the
// supervisor only issues a new connection attempt once the current backoff
// window has elapsed since the previous one.
//
// # Backoff
//
//	attempt:   1     2     3     4      5      6      7 ...
//	window:    1s -> 2s -> 4s -> 8s -> 16s -> 32s -> 32s ...
//
// The window resets to its initial value only when the transport reports a
// successful connection. A later session loss continues from the current
// window rather than starting over.
//
// # Status topic
//
// When an LWT topic is set, the broker is asked to publish the offline
// payload (QoS 0, retained) if the session dies uncleanly, and the online
// payload is published (retained) on every successful connection.
//
// # Usage
//
//	sup := supervisor.New(transport, supervisor.Options{Logger: log})
//	if err := sup.SetServer("10.0.0.5", 1883); err != nil {
//	    return err
//	}
//	sup.SetLWT("dev/status")
//	sup.Connect()
//
//	for range ticker.C {
//	    sup.Reconnect()
//	}
package supervisor
