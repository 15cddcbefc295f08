package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSecurityEvents is the measurement every security event lands in.
const MeasurementSecurityEvents = "security_events"

// WriteSecurityEvent records one security transition.
//
// Parameters:
//   - event: What happened (e.g., "login", "refresh", "reuse_detected", "revoke")
//   - outcome: "success", "failure" or a policy name such as "hard"
//   - accountID: The affected account; stored as a field to bound cardinality
//   - extra: Optional additional fields
//
// Example:
//
//	client.WriteSecurityEvent("reuse_detected", "alert", "acc-42",
//	    map[string]any{"credential_id": "rc-01J..."})
func (c *Client) WriteSecurityEvent(event, outcome, accountID string, extra map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newSecurityEventPoint(event, outcome, accountID, extra, c.now()))
}

// WritePoint writes a custom point with full control over tags and fields.
// It satisfies the event sink interface consumed by the auth package.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}

// newSecurityEventPoint builds the point written by WriteSecurityEvent.
func newSecurityEventPoint(event, outcome, accountID string, extra map[string]any, at time.Time) *write.Point {
	fields := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		fields[k] = v
	}
	fields["count"] = 1
	if accountID != "" {
		fields["account_id"] = accountID
	}

	return write.NewPoint(
		MeasurementSecurityEvents,
		map[string]string{
			"event":   event,
			"outcome": outcome,
		},
		fields,
		at,
	)
}
