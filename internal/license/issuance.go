package license

import (
	"context"
	"errors"
	"fmt"

	"pixelbarcode/internal/security"
)

// Issuance installs uploaded artifacts and rotates the stored token.
type Issuance struct {
	store         *Store
	codec         TokenCodec
	fingerprinter security.Fingerprinter
}

// NewIssuance wires the acceptance workflow.
func NewIssuance(store *Store, codec TokenCodec, fp security.Fingerprinter) *Issuance {
	return &Issuance{store: store, codec: codec, fingerprinter: fp}
}

// Accept installs raw as the license artifact. The upload is written as is,
// decoded, checked against this machine and then re-sealed under a fresh
// nonce. On any failure the artifact is removed.
//
// Dates are not checked here: an expired but correctly bound license is
// accepted and then reported Invalid by the validator.
func (i *Issuance) Accept(ctx context.Context, raw []byte) (Record, error) {
	if err := i.store.WriteRaw(raw); err != nil {
		return Record{}, i.revert(err)
	}

	art, err := i.store.Load()
	if err != nil {
		if errors.Is(err, ErrMalformedArtifact) {
			err = &RejectionError{Reason: RejectMalformed, Err: err}
		}
		return Record{}, i.revert(err)
	}

	rec, err := openRecord(i.codec, art.License)
	if err != nil {
		return Record{}, i.revert(&RejectionError{Reason: RejectMalformed, Err: err})
	}

	fp, err := i.fingerprinter.Fingerprint(ctx)
	if err != nil {
		return Record{}, i.revert(err)
	}
	if !rec.BoundTo(fp) {
		return Record{}, i.revert(&RejectionError{Reason: RejectNotBoundToThisMachine, Err: ErrBindingMismatch})
	}

	if err := i.seal(rec); err != nil {
		return Record{}, i.revert(err)
	}
	return rec, nil
}

// Rotate re-seals the stored record under a fresh nonce. The record's fields are
// carried over unchanged.
func (i *Issuance) Rotate(ctx context.Context) (Record, error) {
	art, err := i.store.Load()
	if err != nil {
		return Record{}, err
	}
	rec, err := openRecord(i.codec, art.License)
	if err != nil {
		return Record{}, err
	}
	if err := i.seal(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (i *Issuance) seal(rec Record) error {
	token, err := i.codec.Encode(Record{
		MachineID: rec.MachineID,
		CPU:       rec.CPU,
		Expiry:    rec.Expiry,
		Start:     rec.Start,
	})
	if err != nil {
		return fmt.Errorf("failed to seal license: %w", err)
	}
	return i.store.Save(Artifact{License: token})
}

// revert removes the candidate artifact and returns cause, joined with the
// removal error if that failed too.
func (i *Issuance) revert(cause error) error {
	if err := i.store.Remove(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
