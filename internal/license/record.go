package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"pixelbarcode/internal/security"
)

// Date is a calendar day with no time or zone. It serialises as YYYY-MM-DD.
type Date struct {
	civil.Date
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{civil.Date{Year: year, Month: month, Day: day}}
}

// Today returns the UTC calendar day of now.
func Today(now time.Time) Date {
	return Date{civil.DateOf(now.UTC())}
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp. For a timestamp the
// day is taken as written, ignoring its offset.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil {
		return Date{d}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return Date{civil.DateOf(t)}, nil
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{d.Date.AddDays(n)}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Date.Before(o.Date) }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Date.After(o.Date) }

// MarshalJSON encodes d as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts any string ParseDate understands.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Record is the payload sealed inside a license token.
type Record struct {
	MachineID string `json:"machineId"`
	CPU       string `json:"cpu"`
	Expiry    *Date  `json:"expiry,omitempty"`
	Start     *Date  `json:"start,omitempty"`
}

// UnmarshalJSON treats an empty date string like an absent one.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		MachineID string  `json:"machineId"`
		CPU       string  `json:"cpu"`
		Expiry    *string `json:"expiry"`
		Start     *string `json:"start"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	expiry, err := optionalDate(raw.Expiry)
	if err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	start, err := optionalDate(raw.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	*r = Record{MachineID: raw.MachineID, CPU: raw.CPU, Expiry: expiry, Start: start}
	return nil
}

func optionalDate(s *string) (*Date, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	d, err := ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate rejects a window that closes before it opens.
func (r Record) Validate() error {
	if r.Start != nil && r.Expiry != nil && r.Start.After(*r.Expiry) {
		return fmt.Errorf("%w: start %s is after expiry %s", ErrMalformedArtifact, r.Start, r.Expiry)
	}
	return nil
}

// BoundTo reports whether the record was issued for fp.
func (r Record) BoundTo(fp security.Fingerprint) bool {
	return fp.Matches(r.MachineID, r.CPU)
}

// Window reports whether today lies inside the record's validity window.
func (r Record) Window(today Date) Reason {
	if r.Expiry != nil && today.After(*r.Expiry) {
		return ReasonExpired
	}
	if r.Start != nil && today.Before(*r.Start) {
		return ReasonNotYetStarted
	}
	return ReasonNone
}
