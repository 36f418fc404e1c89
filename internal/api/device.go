package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
)

// deviceResponse is the body of GET /device.
type deviceResponse struct {
	DeviceID     string `json:"device_id"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	siegenia.DeviceInfo
}

// handleGetDevice queries getDevice live and decorates the result.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	resp, err := s.session.GetDeviceInfo(r.Context())
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	info, err := siegenia.ParseDeviceInfo(resp)
	if err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, deviceResponse{
		DeviceID:     s.window.DeviceID(),
		Model:        info.Model(),
		Manufacturer: info.Manufacturer(),
		DeviceInfo:   info,
	})
}

func (s *Server) handleGetDeviceParams(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, s.session.GetDeviceParams)
}

func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	s.passThrough(w, r, s.session.GetDeviceState)
}

// handleSetDeviceParams forwards a JSON object to setDeviceParams unchanged.
func (s *Server) handleSetDeviceParams(w http.ResponseWriter, r *http.Request) {
	var params map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "body must be a JSON object")
		return
	}
	if len(params) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "params must not be empty")
		return
	}

	s.logger.Info("setting device params", "keys", len(params), "subject", r.Context().Value(ctxKeySubject))
	s.passThrough(w, r, func(ctx context.Context) (*siegenia.Response, error) {
		return s.session.SetDeviceParams(ctx, params)
	})
}

func (s *Server) handleRebootDevice(w http.ResponseWriter, r *http.Request) {
	s.maintenance(w, r, siegenia.CommandRebootDevice, s.session.RebootDevice)
}

func (s *Server) handleResetDevice(w http.ResponseWriter, r *http.Request) {
	s.maintenance(w, r, siegenia.CommandResetDevice, s.session.ResetDevice)
}

func (s *Server) handleRenewCert(w http.ResponseWriter, r *http.Request) {
	s.maintenance(w, r, siegenia.CommandRenewCert, s.session.RenewCert)
}

// maintenance logs and runs a device maintenance command.
func (s *Server) maintenance(w http.ResponseWriter, r *http.Request, command string, call func(context.Context) (*siegenia.Response, error)) {
	s.logger.Warn("device maintenance requested",
		"command", command,
		"subject", r.Context().Value(ctxKeySubject),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	s.passThrough(w, r, call)
}

// passThrough runs call and returns the device's data object as the body.
// A response without data yields {}.
func (s *Server) passThrough(w http.ResponseWriter, r *http.Request, call func(context.Context) (*siegenia.Response, error)) {
	resp, err := call(r.Context())
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	data := resp.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	writeJSON(w, http.StatusOK, data)
}
