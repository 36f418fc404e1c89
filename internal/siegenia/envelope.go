package siegenia

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Protocol command names.
const (
	CommandLogin            = "login"
	CommandLogout           = "logout"
	CommandKeepAlive        = "keepAlive"
	CommandGetDevice        = "getDevice"
	CommandGetDeviceParams  = "getDeviceParams"
	CommandSetDeviceParams  = "setDeviceParams"
	CommandGetDeviceState   = "getDeviceState"
	CommandGetDeviceDetails = "getDeviceDetails"
	CommandResetDevice      = "resetDevice"
	CommandRebootDevice     = "rebootDevice"
	CommandRenewCert        = "renewCert"
)

// Request is an outbound frame. The id is assigned by the client.
//
// Login credentials travel at the top level of the envelope rather than
// inside params.
type Request struct {
	Command  string `json:"command"`
	Params   any    `json:"params,omitempty"`
	ID       uint64 `json:"id"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	LongLife *bool  `json:"long_life,omitempty"`
}

// Response is an inbound frame. Frames without a known id are push messages
// and are delivered through EventMessage with the same shape.
//
// ID is zero unless the frame carried a positive integer id. Fields holds
// every top-level member of a parsed frame, so push messages with ids or
// members the client does not model are kept intact.
type Response struct {
	ID      uint64                     `json:"id,omitempty"`
	Status  string                     `json:"status,omitempty"`
	Command string                     `json:"command,omitempty"`
	Data    json.RawMessage            `json:"data,omitempty"`
	Fields  map[string]json.RawMessage `json:"-"`
}

// MarshalJSON writes the frame as received when it came off the wire.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Fields != nil {
		return json.Marshal(r.Fields)
	}
	type plain Response
	return json.Marshal(plain(r))
}

// OK reports whether the device accepted the request.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusOK
}

// Err returns a *StatusError for a non-ok response and nil otherwise.
func (r *Response) Err() error {
	if r == nil {
		return &StatusError{Status: "missing response"}
	}
	if r.Status == StatusOK {
		return nil
	}
	return &StatusError{Command: r.Command, Status: r.Status}
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return fmt.Errorf("siegenia: response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("siegenia: decoding response data: %w", err)
	}
	return nil
}

// parseFrame decodes an inbound text frame. Anything that is not a JSON
// object is rejected. Member types are not enforced: an id that is not a
// positive integer leaves ID zero and a non-string status keeps its JSON
// text.
func parseFrame(payload []byte) (*Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("frame is not a JSON object")
	}

	resp := &Response{
		ID:      frameID(fields["id"]),
		Command: frameString(fields["command"]),
		Data:    fields["data"],
		Fields:  fields,
	}
	if raw := fields["status"]; len(raw) > 0 {
		resp.Status = frameString(raw)
		if resp.Status == "" && string(raw) != `""` && string(raw) != "null" {
			resp.Status = string(raw)
		}
	}
	return resp, nil
}

// frameID returns the id when raw is a positive JSON integer and 0 otherwise.
func frameID(raw json.RawMessage) uint64 {
	id, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func frameString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
