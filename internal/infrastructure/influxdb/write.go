package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry records one controller telemetry value.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - controllerID: The platform controller the value came from
//   - key: The telemetry key (e.g., "speed", "state1")
//   - value: The numeric value to record
func (c *Client) WriteTelemetry(controllerID, key string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"controller_id": controllerID,
			"key":           key,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteOnlineStatus records a controller liveness transition.
//
// Parameters:
//   - controllerID: The platform controller
//   - online: Whether the controller is reachable
func (c *Client) WriteOnlineStatus(controllerID string, online bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"controller_status",
		map[string]string{
			"controller_id": controllerID,
		},
		map[string]interface{}{
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
