package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementWindowState  = "window_state"
	MeasurementSessionEvent = "siegenia_session"
	MeasurementSessionStats = "siegenia_session_stats"
)

// SessionCounters is a snapshot of session client counters.
type SessionCounters struct {
	RequestsSent      uint64
	ResponsesReceived uint64
	Timeouts          uint64
	MessagesReceived  uint64
	MalformedFrames   uint64
	EventsDropped     uint64
	ReconnectsTotal   uint64
	Pending           int
}

// WriteWindowState records an observed window state.
//
// Example:
//
//	client.WriteWindowState("window-01", "GAP_VENT", 10, false)
func (c *Client) WriteWindowState(deviceID, state string, position int, moving bool) {
	c.writePoint(windowStatePoint(deviceID, state, position, moving, time.Now()))
}

// WriteSessionEvent records a session lifecycle event such as
// "connected", "reconnected", "closed" or "error".
func (c *Client) WriteSessionEvent(deviceID, event, detail string) {
	c.writePoint(sessionEventPoint(deviceID, event, detail, time.Now()))
}

// WriteSessionStats records the session counters.
func (c *Client) WriteSessionStats(deviceID string, counters SessionCounters) {
	c.writePoint(sessionStatsPoint(deviceID, counters, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(point *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(point)
}

func windowStatePoint(deviceID, state string, position int, moving bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementWindowState,
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"state":    state,
			"position": position,
			"moving":   moving,
		},
		ts,
	)
}

func sessionEventPoint(deviceID, event, detail string, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"count": 1,
	}
	if detail != "" {
		fields["detail"] = detail
	}
	return write.NewPoint(
		MeasurementSessionEvent,
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		fields,
		ts,
	)
}

func sessionStatsPoint(deviceID string, s SessionCounters, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSessionStats,
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"requests_sent":      s.RequestsSent,
			"responses_received": s.ResponsesReceived,
			"timeouts":           s.Timeouts,
			"messages_received":  s.MessagesReceived,
			"malformed_frames":   s.MalformedFrames,
			"events_dropped":     s.EventsDropped,
			"reconnects_total":   s.ReconnectsTotal,
			"pending":            s.Pending,
		},
		ts,
	)
}
