package window

import (
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

var topics = mqtt.Topics{}

// CommandMessage is received on graylogic/command/siegenia/{device_id}.
//
// Commands:
//
//	set_position  {"position": 0|100}
//	open, close, stop, gap_vent, stop_over
//	refresh       poll the device immediately
type CommandMessage struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
}

// CommandRefresh and CommandSetPosition complete the action names.
const (
	CommandSetPosition = "set_position"
	CommandRefresh     = "refresh"
)

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout"
)

// Ack error codes.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceRejected    = "DEVICE_REJECTED"
	ErrCodeTimeout           = "TIMEOUT"
)

// AckMessage is published on graylogic/ack/siegenia/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError carries failure details.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is published retained on graylogic/state/siegenia/{device_id}.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Source    string         `json:"source"`
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on graylogic/health/siegenia.
type HealthMessage struct {
	Bridge        string           `json:"bridge"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Session       *SessionStatus   `json:"session,omitempty"`
	Statistics    *SessionCounters `json:"statistics,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// SessionStatus describes the device session.
type SessionStatus struct {
	State        string     `json:"state"`
	LoggedIn     bool       `json:"logged_in"`
	Address      string     `json:"address"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// SessionCounters is the subset of session statistics reported in health.
type SessionCounters struct {
	RequestsSent      uint64 `json:"requests_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	Timeouts          uint64 `json:"timeouts"`
	MessagesReceived  uint64 `json:"messages_received"`
	Reconnects        uint64 `json:"reconnects"`
	Pending           int    `json:"pending"`
}

// DiscoveryMessage is published retained on graylogic/discovery/siegenia.
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes the controller behind the bridge.
type DiscoveredDevice struct {
	DeviceID        string   `json:"device_id"`
	Protocol        string   `json:"protocol"`
	Address         string   `json:"address"`
	Type            string   `json:"type"`
	Capabilities    []string `json:"capabilities"`
	Manufacturer    string   `json:"manufacturer"`
	Model           string   `json:"model"`
	SerialNumber    string   `json:"serial_number"`
	SoftwareVersion string   `json:"software_version,omitempty"`
}

func newAck(cmd CommandMessage, deviceID string, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    status,
		Protocol:  mqtt.Protocol,
	}
}

func newAckError(cmd CommandMessage, deviceID, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := newAck(cmd, deviceID, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

func newStateMessage(deviceID string, state WindowState, source string) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: state.UpdatedAt,
		State:     state.ToMap(),
		Protocol:  mqtt.Protocol,
		Source:    source,
	}
}

// newHealthMessage builds a health message from session statistics.
func newHealthMessage(bridgeID, version string, status HealthStatus, stats siegenia.Stats, loggedIn bool, address string, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Session: &SessionStatus{
			State:    stats.State.String(),
			LoggedIn: loggedIn,
			Address:  address,
		},
		Statistics: &SessionCounters{
			RequestsSent:      stats.RequestsSent,
			ResponsesReceived: stats.ResponsesReceived,
			Timeouts:          stats.Timeouts,
			MessagesReceived:  stats.MessagesReceived,
			Reconnects:        stats.ReconnectsTotal,
			Pending:           stats.Pending,
		},
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Session.LastActivity = &last
	}
	return msg
}

// NewLWTMessage is the health message the broker publishes if the bridge
// vanishes without a clean disconnect.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func newDiscoveryMessage(bridgeID, deviceID, address string, info siegenia.DeviceInfo) DiscoveryMessage {
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices: []DiscoveredDevice{{
			DeviceID:        deviceID,
			Protocol:        mqtt.Protocol,
			Address:         address,
			Type:            "window",
			Capabilities:    []string{"position", ActionOpen, ActionClose, ActionStop, ActionGapVent, ActionStopOver},
			Manufacturer:    info.Manufacturer(),
			Model:           info.Model(),
			SerialNumber:    info.SerialNumber,
			SoftwareVersion: info.SoftwareVersion,
		}},
	}
}

// StateTopic returns the retained state topic for a device.
func StateTopic(deviceID string) string { return topics.BridgeState(mqtt.Protocol, deviceID) }

// CommandTopic returns the command topic for a device.
func CommandTopic(deviceID string) string { return topics.BridgeCommand(mqtt.Protocol, deviceID) }

// AckTopic returns the acknowledgement topic for a device.
func AckTopic(deviceID string) string { return topics.BridgeAck(mqtt.Protocol, deviceID) }

// HealthTopic returns the bridge health topic.
func HealthTopic() string { return topics.BridgeHealth(mqtt.Protocol) }

// DiscoveryTopic returns the discovery topic.
func DiscoveryTopic() string { return topics.BridgeDiscovery(mqtt.Protocol) }
