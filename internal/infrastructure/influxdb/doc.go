// Package influxdb records MQTT connection telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The Client
// implements supervisor.Observer and writes two measurements:
//
//	mqtt_connection,node=<id>,event=attempt|connected|disconnected
//	    next_delay_ms, connected, error
//	mqtt_publish,node=<id>,topic=<topic>,result=success|failed
//	    count, error
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influxdb write failed", "error", err) })
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes, so observer
// callbacks never wait on the network.
package influxdb
