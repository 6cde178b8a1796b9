package services

import (
	"context"

	"pixelbarcode/internal/license"
)

// LicenseManager is the subset of *license.Manager used by the services
type LicenseManager interface {
	Path() string
	Status(ctx context.Context) (license.Status, error)
	AcceptUploadedArtifact(ctx context.Context, raw []byte) error
	CurrentExpiryDate(ctx context.Context) (*license.Date, error)
	MachineRequest(ctx context.Context) (string, error)
}

// Broadcaster pushes events to connected websocket clients
type Broadcaster interface {
	Broadcast(ctx context.Context, msgType string, data interface{}, traceID string)
}
