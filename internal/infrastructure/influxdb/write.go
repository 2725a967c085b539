package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// Measurement names written by the bridge.
const (
	MeasurementChannel = "raw_channel"
	MeasurementDevice  = "logical_device"
)

// Channel kinds used as the "kind" tag of raw_channel points.
const (
	KindInput  = "input"
	KindOutput = "output"
)

// WriteChannel records the value of one physical channel.
//
// Parameters:
//   - endpoint: Endpoint ID
//   - channel: Channel name (btnN or ledN); the kind tag is derived from it
//   - value: true for pressed/on
//   - ts: Observation time
func (c *Client) WriteChannel(endpoint, channel string, value bool, ts time.Time) {
	kind := KindOutput
	if state.IsInputChannel(channel) {
		kind = KindInput
	}

	c.WritePoint(
		MeasurementChannel,
		map[string]string{
			"endpoint": endpoint,
			"channel":  channel,
			"kind":     kind,
		},
		map[string]any{"value": boolToInt(value)},
		ts,
	)
}

// WriteDevice records the logical state of one device.
//
// The state is written as 0/1 so it can be aggregated; pending marks an
// actuation not yet confirmed by the controller.
func (c *Client) WriteDevice(endpoint string, d state.Device, ts time.Time) {
	c.WritePoint(
		MeasurementDevice,
		map[string]string{
			"endpoint":  endpoint,
			"device_id": d.ID,
		},
		map[string]any{
			"state":   boolToInt(d.LogicalState),
			"pending": d.Pending,
			"name":    d.Name,
		},
		ts,
	)
}

// WritePoint writes a point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the data
//   - ts: The time of the point
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	c.written.Add(1)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
