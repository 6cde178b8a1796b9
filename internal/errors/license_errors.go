package errors

import (
	"context"
	"errors"
	"net/http"

	"pixelbarcode/internal/license"
	"pixelbarcode/internal/security"
)

// Messages shown to clients. They match what the license page expects.
const (
	MsgInvalidLicenseFile = "Invalid license file."
	MsgNoLicenseFile      = "No license file uploaded."
	MsgSaveFailed         = "Failed to save license"
	MsgLicenseNotFound    = "License file not found."
	MsgInvalidLicenseData = "Invalid license data."
	MsgReadFailed         = "Error reading license file."
	MsgNotLicensed        = "A valid license is required for this machine."
)

// MapLicenseError converts an error from the license package into a problem
// document. Rejections only expose their coarse category. Storage failures are
// reported as read errors; use MapLicenseUploadError on the upload path.
func MapLicenseError(err error, instance string) *ProblemDetails {
	return mapLicenseError(err, instance, MsgReadFailed)
}

// MapLicenseUploadError is MapLicenseError for requests that write the license.
func MapLicenseUploadError(err error, instance string) *ProblemDetails {
	return mapLicenseError(err, instance, MsgSaveFailed)
}

func mapLicenseError(err error, instance, storageDetail string) *ProblemDetails {
	if reason, ok := license.IsRejection(err); ok {
		return NewProblemDetails(http.StatusBadRequest, TypeLicenseInvalidFile,
			"Invalid License File", MsgInvalidLicenseFile, instance).
			WithExtension("category", string(reason))
	}

	switch {
	case errors.Is(err, license.ErrPersistence):
		return NewProblemDetails(http.StatusInternalServerError, TypeLicenseStorage,
			"License Storage Failure", storageDetail, instance)
	case errors.Is(err, license.ErrNoArtifact):
		return NewProblemDetails(http.StatusNotFound, TypeLicenseNotFound,
			"License Not Found", MsgLicenseNotFound, instance)
	case errors.Is(err, license.ErrMalformedArtifact), errors.Is(err, license.ErrDecode):
		return NewProblemDetails(http.StatusBadRequest, TypeLicenseInvalid,
			"Invalid License", MsgInvalidLicenseData, instance)
	case errors.Is(err, security.ErrFingerprint):
		return NewProblemDetails(http.StatusServiceUnavailable, TypeServiceDown,
			"Machine Identification Failed", "The machine could not be identified.", instance)
	case errors.Is(err, context.DeadlineExceeded):
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout", "The request took too long to process.", instance)
	case errors.Is(err, context.Canceled):
		return NewProblemDetails(499, TypeTimeout,
			"Request Cancelled", "The request was cancelled.", instance)
	default:
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", MsgReadFailed, instance)
	}
}

// NotLicensed is returned by the gate for API requests without a valid license.
func NotLicensed(state license.State, instance string) *ProblemDetails {
	return NewProblemDetails(http.StatusPreconditionRequired, TypeLicenseNotActivated,
		"License Required", MsgNotLicensed, instance).
		WithExtension("state", state.String()).
		WithExtension("license_url", "/license")
}
