// Package influxdb records workspace auth activity as time-series points.
//
// It wraps the official influxdb-client-go v2 library with a non-blocking,
// batched write API. Two measurements are written:
//
//	auth_events     tags: event, outcome, role      fields: count=1
//	session_sweeps  tags: none                      fields: deleted, duration_ms
//
// Tags stay low-cardinality: user ids are never written as tags.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // time-series recording is optional
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login", "success", "OWNER")
//
// Writes are dropped silently while disconnected. Asynchronous write
// failures are delivered to the callback set with SetOnError.
package influxdb
