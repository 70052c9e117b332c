// Package telemetry ingests controller telemetry and liveness from the
// device platform's MQTT broker into the device registry.
//
// The ingest is the only writer of device online flags, last-seen
// timestamps, and cached state fragments. These are advisory metadata with
// last-writer-wins semantics; QUERY always reads fresh values through the
// platform gateway.
//
// When an InfluxDB recorder is configured, numeric telemetry values and
// liveness transitions are also written to time-series history.
package telemetry
