// Package app wires the license subsystem into a runnable HTTP service.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, file and environment
//	2. Initialize logging and OpenTelemetry
//	3. Build the codecs, license store, fingerprinter and manager
//	4. Create the websocket hub and services
//	5. Assemble the chi router with the license gate in front of protected routes
//
// # Usage
//
//	application, err := app.NewApplication(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package app
