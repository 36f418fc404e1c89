// Package influxdb records window telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written:
//   - window_state: state name, position and movement per observation
//   - siegenia_session: session lifecycle events (connected, closed, error)
//   - siegenia_session_stats: periodic session client counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//	client.WriteWindowState("window-01", "OPEN", 100, false)
package influxdb
