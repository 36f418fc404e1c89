// Package api provides the HTTP control API and WebSocket relay for the
// Siegenia bridge.
//
// All routes live under /api/v1. Only /health and /auth/token are open;
// everything else needs a bearer token issued by /auth/token. The /ws
// endpoint also accepts the token as an access_token query parameter,
// since browsers cannot set headers on WebSocket upgrades.
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
