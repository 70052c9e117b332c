// Package influxdb provides InfluxDB connectivity for the CasaLink bridge.
//
// It wraps the official influxdb-client-go v2 library with CasaLink-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Controller telemetry history (switch states, fan speeds, sensors)
//   - Controller online/offline transitions
//
// The fulfillment path never reads from InfluxDB; QUERY answers come from
// the gateway. History exists for dashboards and offline diagnosis.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("ctrl-001", "speed", 3)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a
// callback. Connection and health check errors are returned directly.
package influxdb
