package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pixelbarcode/internal/security"
)

// TokenCodec seals and opens license payloads.
type TokenCodec interface {
	Encode(v any) (string, error)
	Decode(token string, v any) error
}

// State is the outcome of a license check.
type State int

const (
	NoLicense State = iota
	Invalid
	Valid
)

func (s State) String() string {
	switch s {
	case NoLicense:
		return "no-license"
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a check result with its explanation. Record is set whenever the
// token could be decoded, even if the license is not valid.
type Status struct {
	State  State
	Reason Reason
	Record *Record
}

// Validator computes the license state. It never writes to the store.
type Validator struct {
	store         *Store
	codec         TokenCodec
	fingerprinter security.Fingerprinter
	clock         func() time.Time
}

// NewValidator wires a validator. A nil clock means time.Now.
func NewValidator(store *Store, codec TokenCodec, fp security.Fingerprinter, clock func() time.Time) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{store: store, codec: codec, fingerprinter: fp, clock: clock}
}

// Check returns the current state. The only errors are storage and
// fingerprint failures.
func (v *Validator) Check(ctx context.Context) (State, error) {
	st, err := v.Evaluate(ctx)
	return st.State, err
}

// Evaluate is Check with the reason and decoded record attached.
func (v *Validator) Evaluate(ctx context.Context) (Status, error) {
	rec, err := v.loadRecord()
	switch {
	case errors.Is(err, ErrNoArtifact):
		return Status{State: NoLicense, Reason: ReasonNoArtifact}, nil
	case errors.Is(err, ErrPersistence):
		return Status{}, err
	case errors.Is(err, ErrDecode):
		return Status{State: Invalid, Reason: ReasonDecodeFailure}, nil
	case errors.Is(err, ErrMalformedArtifact):
		return Status{State: Invalid, Reason: ReasonMalformed}, nil
	case err != nil:
		return Status{}, err
	}

	fp, err := v.fingerprinter.Fingerprint(ctx)
	if err != nil {
		return Status{}, err
	}
	if !rec.BoundTo(fp) {
		return Status{State: Invalid, Reason: ReasonBindingMismatch, Record: &rec}, nil
	}

	if reason := rec.Window(Today(v.clock())); reason != ReasonNone {
		return Status{State: Invalid, Reason: reason, Record: &rec}, nil
	}
	return Status{State: Valid, Record: &rec}, nil
}

// ExpiryDate returns the embedded expiry of any decodable artifact, valid or
// not. The result is nil when the license has no expiry.
func (v *Validator) ExpiryDate(ctx context.Context) (*Date, error) {
	rec, err := v.loadRecord()
	if err != nil {
		return nil, err
	}
	return rec.Expiry, nil
}

func (v *Validator) loadRecord() (Record, error) {
	art, err := v.store.Load()
	if err != nil {
		return Record{}, err
	}
	return openRecord(v.codec, art.License)
}

// openRecord decodes token and checks the record's own consistency.
func openRecord(codec TokenCodec, token string) (Record, error) {
	var rec Record
	if err := codec.Decode(token, &rec); err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}
