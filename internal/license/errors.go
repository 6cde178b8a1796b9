package license

import (
	"errors"
	"fmt"

	"pixelbarcode/internal/security"
)

var (
	ErrNoArtifact        = errors.New("license artifact not found")
	ErrMalformedArtifact = errors.New("license artifact is malformed")
	ErrDecode            = security.ErrDecode
	ErrBindingMismatch   = errors.New("license is bound to another machine")
	ErrExpired           = errors.New("license has expired")
	ErrNotYetStarted     = errors.New("license is not yet valid")
	ErrPersistence       = errors.New("license storage failure")
)

// Reason explains why a check did not end in Valid.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNoArtifact      Reason = "no-artifact"
	ReasonMalformed       Reason = "malformed"
	ReasonDecodeFailure   Reason = "decode-failure"
	ReasonBindingMismatch Reason = "binding-mismatch"
	ReasonExpired         Reason = "expired"
	ReasonNotYetStarted   Reason = "not-yet-started"
)

// Err returns the sentinel error matching r, or nil for ReasonNone.
func (r Reason) Err() error {
	switch r {
	case ReasonNoArtifact:
		return ErrNoArtifact
	case ReasonMalformed:
		return ErrMalformedArtifact
	case ReasonDecodeFailure:
		return ErrDecode
	case ReasonBindingMismatch:
		return ErrBindingMismatch
	case ReasonExpired:
		return ErrExpired
	case ReasonNotYetStarted:
		return ErrNotYetStarted
	default:
		return nil
	}
}

// RejectionReason is the coarse category reported for a refused upload.
type RejectionReason string

const (
	RejectMalformed             RejectionReason = "malformed"
	RejectNotBoundToThisMachine RejectionReason = "wrong-machine"
)

// RejectionError is returned by AcceptUploadedArtifact when the upload itself is
// unacceptable. Storage failures are not rejections.
type RejectionError struct {
	Reason RejectionReason
	Err    error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("license rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectionError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a *RejectionError and returns its reason.
func IsRejection(err error) (RejectionReason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
