package influxdb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementGroupChange holds one point per committed group mutation.
const MeasurementGroupChange = "group_change"

// WriteGroupChange records a group mutation.
//
// The point is tagged with the group ID and event type so dashboards can
// chart change frequency per group. The write is non-blocking; data is
// batched and sent asynchronously. After Close the point is dropped and
// ErrNotConnected is returned.
//
// Parameters:
//   - groupID: Group that changed
//   - event: Event type ("created", "devices", "packages", "policy", "deleted")
//   - fields: Values describing the change (version, device counts, policy)
//   - at: Commit time of the change
//
// Example:
//
//	client.WriteGroupChange(7, "policy", map[string]any{"version": int64(3), "policy": "exact_match,v2"}, time.Now())
func (c *Client) WriteGroupChange(groupID int64, event string, fields map[string]any, at time.Time) error {
	return c.WritePointWithTime(MeasurementGroupChange,
		map[string]string{
			"group_id": strconv.FormatInt(groupID, 10),
			"event":    event,
		},
		fields,
		at,
	)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) error {
	return c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point with a specific timestamp. A point
// without fields is skipped, since line protocol requires at least one.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: %s point dropped", ErrNotConnected, measurement)
	}
	if len(fields) == 0 {
		return nil
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
	return nil
}
