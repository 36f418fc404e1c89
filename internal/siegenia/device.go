package siegenia

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// deviceTypes maps the numeric type reported by getDevice to a model family.
var deviceTypes = map[int]string{
	1:  "AEROPAC",
	2:  "AEROMAT VT",
	3:  "DRIVE axxent Family",
	4:  "SENSOAIR",
	5:  "AEROVITAL",
	6:  "MHS Family",
	7:  "reserved",
	8:  "AEROTUBE",
	9:  "GENIUS B", // obsolete, now driven through the Universal Module
	10: "Universal Module",
}

// DeviceTypeName returns the model family for a device type, or
// "unknown (n)" for values outside the table.
func DeviceTypeName(deviceType int) string {
	if name, ok := deviceTypes[deviceType]; ok {
		return name
	}
	return "unknown (" + strconv.Itoa(deviceType) + ")"
}

// DeviceInfo is the data section of a getDevice response.
type DeviceInfo struct {
	Type            int    `json:"type"`
	SerialNumber    string `json:"serialnr"`
	DeviceName      string `json:"devicename"`
	HardwareVersion string `json:"hardwareversion,omitempty"`
	SoftwareVersion string `json:"softwareversion,omitempty"`
}

// Model returns the model family name.
func (d DeviceInfo) Model() string {
	return DeviceTypeName(d.Type)
}

// Manufacturer returns the display manufacturer, "Siegenia <devicename>".
func (d DeviceInfo) Manufacturer() string {
	if d.DeviceName == "" {
		return "Siegenia"
	}
	return "Siegenia " + d.DeviceName
}

// SashStates holds window states keyed by sash index. The device reports
// them either as an array or as an object keyed "0", "1", ...
type SashStates map[int]string

// UnmarshalJSON accepts both the array and the object form.
func (s *SashStates) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		out := make(SashStates, len(list))
		for i, v := range list {
			out[i] = v
		}
		*s = out
		return nil
	}

	var keyed map[string]string
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("siegenia: states: %w", err)
	}
	out := make(SashStates, len(keyed))
	for k, v := range keyed {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("siegenia: states: invalid sash index %q", k)
		}
		out[idx] = v
	}
	*s = out
	return nil
}

// DeviceParams is the subset of getDeviceParams data the bridge uses.
type DeviceParams struct {
	States SashStates `json:"states"`
}

// State returns the state of sash, if reported.
func (p DeviceParams) State(sash int) (string, bool) {
	s, ok := p.States[sash]
	return s, ok
}

// ParseDeviceInfo decodes a getDevice response.
func ParseDeviceInfo(resp *Response) (DeviceInfo, error) {
	var info DeviceInfo
	if err := resp.Err(); err != nil {
		return info, err
	}
	if err := resp.Decode(&info); err != nil {
		return info, err
	}
	return info, nil
}

// ParseDeviceParams decodes a getDeviceParams response or push message.
func ParseDeviceParams(resp *Response) (DeviceParams, error) {
	var params DeviceParams
	if err := resp.Decode(&params); err != nil {
		return params, err
	}
	if len(params.States) == 0 {
		return params, fmt.Errorf("siegenia: device params carry no states")
	}
	return params, nil
}

// Window actions accepted by the openclose parameter.
const (
	ActionOpen        = "OPEN"
	ActionClose       = "CLOSE"
	ActionCloseWOLock = "CLOSE_WO_LOCK"
	ActionGapVent     = "GAP_VENT"
	ActionStopOver    = "STOP_OVER"
	ActionStop        = "STOP"
)

// OpenCloseParams builds {"openclose": {"<sash>": action}}.
func OpenCloseParams(sash int, action string) map[string]any {
	return map[string]any{
		"openclose": map[string]string{strconv.Itoa(sash): action},
	}
}

// StopParams builds {"stop": {"<sash>": true}}.
func StopParams(sash int) map[string]any {
	return map[string]any{
		"stop": map[string]bool{strconv.Itoa(sash): true},
	}
}
