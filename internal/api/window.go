package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// windowRequest is the body of POST /window. Exactly one field is set.
type windowRequest struct {
	Position *int   `json:"position,omitempty"`
	Action   string `json:"action,omitempty"`
}

// windowResponse is the body of GET /window and POST /window.
type windowResponse struct {
	DeviceID string `json:"device_id"`
	Ready    bool   `json:"ready"`
	State    any    `json:"state,omitempty"`
}

func (s *Server) handleGetWindow(w http.ResponseWriter, _ *http.Request) {
	state, err := s.window.State()
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, windowResponse{
		DeviceID: s.window.DeviceID(),
		Ready:    s.window.Ready(),
		State:    state,
	})
}

// handleSetWindow moves the sash to a target position or runs an action.
func (s *Server) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	action := strings.TrimSpace(req.Action)
	switch {
	case req.Position != nil && action != "":
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "set either position or action, not both")
		return
	case req.Position == nil && action == "":
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "position or action is required")
		return
	}

	var err error
	if req.Position != nil {
		err = s.window.SetTargetPosition(r.Context(), *req.Position)
	} else {
		err = s.window.Do(r.Context(), action)
	}
	if err != nil {
		target := action
		if req.Position != nil {
			target = strconv.Itoa(*req.Position)
		}
		s.logger.Warn("window command failed",
			"target", target,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeDeviceError(w, err)
		return
	}

	resp := windowResponse{DeviceID: s.window.DeviceID(), Ready: s.window.Ready()}
	if state, err := s.window.State(); err == nil {
		resp.State = state
	}
	writeJSON(w, http.StatusAccepted, resp)
}
