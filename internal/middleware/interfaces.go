package middleware

import (
	"context"

	"pixelbarcode/internal/license"
)

// LicenseChecker computes the current license state on every call
type LicenseChecker interface {
	Check(ctx context.Context) (license.State, error)
}
