// Package api implements the HTTP interface of Gatekeeper.
//
// This package provides:
//   - Public login, logout and account creation under /users
//   - Self-service account management under /users/manage (Low and above)
//   - Privileged account administration under /internal (High and above)
//   - Liveness, stop and stop_now controls under /api
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Authentication
//
// Every protected request carries two headers, username and token. The
// gate checks them in a fixed order: header shape, account lookup,
// registry login state, level, then a constant-time token comparison.
// Unknown accounts and wrong tokens get the same response.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// The server subscribes to the shutdown coordinator. A graceful stop
// drains in-flight requests; an immediate stop closes the listener.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
