// Package influxdb provides InfluxDB connectivity for sessiond security events.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring.
//
// # Purpose
//
// Every security-relevant transition (login, refresh, reuse detection,
// revocation, stamp mismatch) is written as a point in the
// "security_events" measurement so operators can chart and alert on them.
// Account IDs are stored as fields, not tags, to keep series cardinality low.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSecurityEvent("refresh", "success", "acc-42", nil)
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered via SetOnError.
// Connection and health check errors are returned directly.
package influxdb
