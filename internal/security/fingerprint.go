package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"

	"pixelbarcode/internal/infrastructure"
)

// ErrFingerprint is returned when the host cannot be identified.
var ErrFingerprint = errors.New("machine fingerprint unavailable")

// Fingerprint identifies the machine a license is bound to.
type Fingerprint struct {
	MachineID string `json:"machineId"`
	CPU       string `json:"cpu"`
}

// Matches reports whether both binding fields are equal.
func (f Fingerprint) Matches(machineID, cpu string) bool {
	return f.MachineID == machineID && f.CPU == cpu
}

// Fingerprinter produces the fingerprint of the running host.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) (Fingerprint, error)
}

// HostFingerprinter reads the platform machine id and the model name of the
// first logical CPU. It computes a fresh value on every call.
type HostFingerprinter struct {
	logger *slog.Logger
}

// NewHostFingerprinter creates a fingerprinter for the current host
func NewHostFingerprinter(logger *slog.Logger) *HostFingerprinter {
	return &HostFingerprinter{logger: infrastructure.WithComponent(logger, "fingerprint")}
}

// Fingerprint implements Fingerprinter
func (h *HostFingerprinter) Fingerprint(ctx context.Context) (Fingerprint, error) {
	id, err := host.HostIDWithContext(ctx)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: host id: %w", ErrFingerprint, err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Fingerprint{}, fmt.Errorf("%w: empty host id", ErrFingerprint)
	}

	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: cpu info: %w", ErrFingerprint, err)
	}
	if len(infos) == 0 {
		return Fingerprint{}, fmt.Errorf("%w: no cpu reported", ErrFingerprint)
	}

	fp := Fingerprint{
		MachineID: id,
		CPU:       strings.TrimSpace(infos[0].ModelName),
	}

	h.logger.DebugContext(ctx, "Fingerprint computed",
		slog.String("machine_id", MaskIdentifier(fp.MachineID)),
		slog.String("cpu", fp.CPU))

	return fp, nil
}

// StaticFingerprinter always returns the same fingerprint. Useful for tests and
// for issuing licenses to a machine described by a request token.
type StaticFingerprinter Fingerprint

// Fingerprint implements Fingerprinter
func (s StaticFingerprinter) Fingerprint(context.Context) (Fingerprint, error) {
	return Fingerprint(s), nil
}

// MaskIdentifier keeps the first and last four characters of id.
func MaskIdentifier(id string) string {
	if len(id) <= 8 {
		return strings.Repeat("*", len(id))
	}
	return id[:4] + strings.Repeat("*", len(id)-8) + id[len(id)-4:]
}
