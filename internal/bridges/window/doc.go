// Package window exposes one Siegenia sash as a window on the Gray Logic
// MQTT bus.
//
// The bridge owns the session's application layer: it logs in whenever the
// session client reports a (re)connection, polls getDeviceParams, applies
// pushed device params and translates MQTT commands into openclose/stop
// requests.
//
// State mapping:
//
//	OPEN          → 100
//	STOPPED       →  70
//	STOP_OVER     →  40
//	CLOSED_WOLOCK →  20
//	GAP_VENT      →  10
//	CLOSED        →   0
//	anything else →   0
//
// MOVING reports position state "increasing"; every other state "stopped".
//
// Topics:
//
//	graylogic/state/siegenia/{device_id}     retained state
//	graylogic/command/siegenia/{device_id}   inbound commands
//	graylogic/ack/siegenia/{device_id}       command acknowledgements
//	graylogic/discovery/siegenia             retained device info
//	graylogic/health/siegenia                retained health, LWT
package window
