package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

// Device states reported in getDeviceParams "states".
const (
	StateOpen         = "OPEN"
	StateStopped      = "STOPPED"
	StateStopOver     = "STOP_OVER"
	StateClosedWOLock = "CLOSED_WOLOCK"
	StateGapVent      = "GAP_VENT"
	StateClosed       = "CLOSED"
	StateMoving       = "MOVING"
)

// Position states.
const (
	PositionIncreasing = "increasing"
	PositionStopped    = "stopped"
)

// Target positions the controller can reach.
const (
	PositionOpen   = 100
	PositionClosed = 0
)

var statePositions = map[string]int{
	StateOpen:         100,
	StateStopped:      70,
	StateStopOver:     40,
	StateClosedWOLock: 20,
	StateGapVent:      10,
	StateClosed:       0,
}

// PositionFor maps a device state to a 0-100 position. Unknown states map to 0.
func PositionFor(state string) int {
	return statePositions[state]
}

// PositionStateFor reports "increasing" while the sash is moving.
func PositionStateFor(state string) string {
	if state == StateMoving {
		return PositionIncreasing
	}
	return PositionStopped
}

// WindowState is the bridge's view of the sash.
type WindowState struct {
	State         string    `json:"state"`
	Position      int       `json:"position"`
	PositionState string    `json:"position_state"`
	Target        int       `json:"target_position"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewWindowState derives position fields from a raw device state.
func NewWindowState(state string, target int) WindowState {
	return WindowState{
		State:         state,
		Position:      PositionFor(state),
		PositionState: PositionStateFor(state),
		Target:        target,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Moving reports whether the sash is in motion.
func (s WindowState) Moving() bool {
	return s.State == StateMoving
}

// Snapshot converts to the history record shape.
func (s WindowState) Snapshot() history.Snapshot {
	return history.Snapshot{State: s.State, Position: s.Position, Moving: s.Moving()}
}

// ToMap converts to the generic state map carried by state messages.
func (s WindowState) ToMap() map[string]any {
	return map[string]any{
		"state":           s.State,
		"position":        s.Position,
		"position_state":  s.PositionState,
		"target_position": s.Target,
	}
}

// ActionForTarget converts a target position into an openclose action.
func ActionForTarget(target int) (string, error) {
	switch target {
	case PositionOpen:
		return siegenia.ActionOpen, nil
	case PositionClosed:
		return siegenia.ActionClose, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedPosition, target)
	}
}

// Action names accepted from MQTT and the API.
const (
	ActionOpen     = "open"
	ActionClose    = "close"
	ActionStop     = "stop"
	ActionGapVent  = "gap_vent"
	ActionStopOver = "stop_over"
)

var deviceActions = map[string]string{
	ActionOpen:     siegenia.ActionOpen,
	ActionClose:    siegenia.ActionClose,
	ActionGapVent:  siegenia.ActionGapVent,
	ActionStopOver: siegenia.ActionStopOver,
	ActionStop:     siegenia.ActionStop,
}

// ParseAction normalises an action name and returns the device action.
func ParseAction(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	action, ok := deviceActions[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return action, nil
}

// paramsFor builds the setDeviceParams payload for a device action.
func paramsFor(sash int, action string) map[string]any {
	if action == siegenia.ActionStop {
		return siegenia.StopParams(sash)
	}
	return siegenia.OpenCloseParams(sash, action)
}

// optimisticState is the state assumed after a successful action, if any.
// Only full open and close have a known end state.
func optimisticState(action string) (state string, target int, ok bool) {
	switch action {
	case siegenia.ActionOpen:
		return StateOpen, PositionOpen, true
	case siegenia.ActionClose:
		return StateClosed, PositionClosed, true
	default:
		return "", 0, false
	}
}
