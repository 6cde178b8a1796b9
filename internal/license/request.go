package license

import (
	"errors"
	"fmt"

	"pixelbarcode/internal/security"
)

// RequestPurpose separates machine request tokens from license tokens.
const RequestPurpose = "pixelbarcode/machine-request/v1"

// EncodeRequest seals fp as a machine request token.
func EncodeRequest(codec TokenCodec, fp security.Fingerprint) (string, error) {
	token, err := codec.Encode(fp)
	if err != nil {
		return "", fmt.Errorf("failed to encode machine request: %w", err)
	}
	return token, nil
}

// DecodeRequest opens a machine request token.
func DecodeRequest(codec TokenCodec, token string) (security.Fingerprint, error) {
	var fp security.Fingerprint
	if err := codec.Decode(token, &fp); err != nil {
		return security.Fingerprint{}, err
	}
	if fp.MachineID == "" {
		return security.Fingerprint{}, errors.New("machine request has no machine id")
	}
	return fp, nil
}

// Issue builds the artifact for fp with the given window. Either date may be nil.
func Issue(codec TokenCodec, fp security.Fingerprint, start, expiry *Date) (Artifact, error) {
	rec := Record{MachineID: fp.MachineID, CPU: fp.CPU, Start: start, Expiry: expiry}
	if err := rec.Validate(); err != nil {
		return Artifact{}, err
	}
	token, err := codec.Encode(rec)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to seal license: %w", err)
	}
	return Artifact{License: token}, nil
}

// Open decodes the record sealed in a. It does not check binding or dates.
func Open(codec TokenCodec, a Artifact) (Record, error) {
	return openRecord(codec, a.License)
}
