package siegenia

import "context"

// Device commands. Each is a single request; the response is returned as
// received, so callers check Response.Err for the device status.

// Logout ends the authenticated session on the device.
func (c *Client) Logout(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandLogout, nil)
}

// GetDeviceInfo requests the device description (getDevice).
func (c *Client) GetDeviceInfo(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandGetDevice, nil)
}

// GetDeviceParams requests the current device parameters, including
// the per-sash window states.
func (c *Client) GetDeviceParams(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandGetDeviceParams, nil)
}

// SetDeviceParams writes params, e.g. {"openclose": {"0": "OPEN"}}.
func (c *Client) SetDeviceParams(ctx context.Context, params any) (*Response, error) {
	return c.SendRequest(ctx, CommandSetDeviceParams, params)
}

func (c *Client) GetDeviceState(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandGetDeviceState, nil)
}

func (c *Client) GetDeviceDetails(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandGetDeviceDetails, nil)
}

func (c *Client) ResetDevice(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandResetDevice, nil)
}

func (c *Client) RebootDevice(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandRebootDevice, nil)
}

// RenewCert asks the device to regenerate its TLS certificate.
func (c *Client) RenewCert(ctx context.Context) (*Response, error) {
	return c.SendRequest(ctx, CommandRenewCert, nil)
}
