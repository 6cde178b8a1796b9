// Package services holds the application logic behind the HTTP handlers.
//
// LicenseService wraps the license manager with the response shapes the
// license page and API expect, and pushes status changes to connected
// websocket clients after a successful upload. HealthService reports liveness
// together with the current license state.
package services
