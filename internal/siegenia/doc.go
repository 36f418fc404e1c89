// Package siegenia implements a session client for Siegenia window and
// ventilation controllers.
//
// The controller speaks JSON over a WebSocket at wss://host:port/WebSocket.
// Every request carries an integer id which the device echoes in its
// response; frames without a known id are push messages.
//
// # Lifecycle
//
//	client, err := siegenia.New(siegenia.Options{Host: "192.168.1.50"})
//	if err != nil { ... }
//	defer client.Close()
//
//	if err := client.ConnectAndWait(ctx); err != nil { ... }
//	if _, err := client.LoginUser(ctx, "admin", password); err != nil { ... }
//
//	resp, err := client.GetDeviceParams(ctx)
//
// After a drop the client reconnects with a linear backoff and gives up
// after MaxRetries attempts, reporting ErrConnectionFailed as an error
// event. A keepAlive is sent every HeartbeatInterval while connected.
//
// Reconnecting does not restore authentication. Subscribers are expected
// to log in again on EventConnected and EventReconnected.
package siegenia
