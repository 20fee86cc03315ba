package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

// Measurement names.
const (
	MeasurementCycle        = "lighthouse_cycle"
	MeasurementConnectRetry = "lighthouse_connect_retry"
)

// Tags identify the lighthouse and run a point belongs to.
type Tags struct {
	LighthouseID string
	Address      string
	RunID        string
}

func (t Tags) toMap() map[string]string {
	m := map[string]string{
		"lighthouse_id": t.LighthouseID,
		"address":       t.Address,
	}
	if t.RunID != "" {
		m["run_id"] = t.RunID
	}
	return m
}

// WriteCycle records the outcome of one keep-alive cycle.
//
// The point is timestamped with the cycle's start. Failed cycles carry the
// error kind as a field so they stay queryable without raising tag
// cardinality.
//
// Example:
//
//	client.WriteCycle(tags, report.Summary())
func (c *Client) WriteCycle(tags Tags, s lighthouse.CycleSummary) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"cycle":            s.Cycle,
		"connect_attempts": s.ConnectAttempts,
		"connect_ms":       s.ConnectMS,
		"write_ms":         s.WriteMS,
		"success":          s.Success,
	}
	if s.ErrorKind != "" {
		fields["error_kind"] = s.ErrorKind
	}

	ts := s.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementCycle, tags.toMap(), fields, ts))
}

// WriteConnectRetry records a failed connection attempt that will be retried.
//
// Parameters:
//   - attempt: 1-based attempt number that failed
//   - at: When the attempt failed
func (c *Client) WriteConnectRetry(tags Tags, attempt int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementConnectRetry,
		tags.toMap(),
		map[string]interface{}{"attempt": attempt},
		at,
	))
}
