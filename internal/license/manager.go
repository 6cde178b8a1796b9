package license

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pixelbarcode/internal/infrastructure"
	"pixelbarcode/internal/security"
)

// Manager is the entry point used by the rest of the application. Checks run
// concurrently; uploads and rotations hold the artifact exclusively.
type Manager struct {
	mu sync.RWMutex

	store         *Store
	fingerprinter security.Fingerprinter
	validator     *Validator
	issuance      *Issuance
	requestCodec  TokenCodec

	clock   func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// Option customises a Manager
type Option func(*Manager)

// WithClock overrides the wall clock used for date checks
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metric instruments
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithRequestCodec enables MachineRequest with a codec that must not share a
// key with the license codec.
func WithRequestCodec(codec TokenCodec) Option {
	return func(m *Manager) { m.requestCodec = codec }
}

// NewManager wires validator and issuance around one store.
func NewManager(store *Store, codec TokenCodec, fp security.Fingerprinter, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		fingerprinter: fp,
		clock:         time.Now,
		tracer:        otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics, _ = NewMetrics(nil)
	}
	m.logger = infrastructure.WithComponent(m.logger, "license_manager")
	m.validator = NewValidator(store, codec, fp, m.clock)
	m.issuance = NewIssuance(store, codec, fp)
	return m
}

// Path returns the artifact location
func (m *Manager) Path() string {
	return m.store.Path()
}

// Status evaluates the license and explains the result.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	ctx, span := m.tracer.Start(ctx, "license.Status")
	defer span.End()

	m.mu.RLock()
	start := time.Now()
	st, err := m.validator.Evaluate(ctx)
	elapsed := time.Since(start)
	m.mu.RUnlock()

	m.metrics.recordCheck(ctx, st, err, elapsed)
	if err != nil {
		m.logError(ctx, "check", err)
		return Status{}, err
	}

	span.SetAttributes(
		attribute.String("license.state", st.State.String()),
		attribute.String("license.reason", string(st.Reason)),
	)
	m.logStatus(ctx, st)
	return st, nil
}

// Check returns the current license state
func (m *Manager) Check(ctx context.Context) (State, error) {
	st, err := m.Status(ctx)
	return st.State, err
}

// IsLicenseValid reports whether protected requests may proceed. The error is
// non-nil only for storage or fingerprint failures.
func (m *Manager) IsLicenseValid(ctx context.Context) (bool, error) {
	state, err := m.Check(ctx)
	if err != nil {
		return false, err
	}
	return state == Valid, nil
}

// AcceptUploadedArtifact installs an uploaded license file. It returns a
// *RejectionError for unacceptable uploads and an ErrPersistence error when
// the file could not be stored.
func (m *Manager) AcceptUploadedArtifact(ctx context.Context, raw []byte) error {
	ctx, span := m.tracer.Start(ctx, "license.Accept",
		trace.WithAttributes(attribute.Int("license.upload_bytes", len(raw))))
	defer span.End()

	m.mu.Lock()
	rec, err := m.issuance.Accept(ctx, raw)
	m.mu.Unlock()

	if err != nil {
		outcome := "error"
		if reason, ok := IsRejection(err); ok {
			outcome = string(reason)
			m.logAction(ctx, slog.LevelWarn, "accept", "rejected",
				slog.String("reason", outcome),
				slog.String("error", err.Error()))
		} else {
			m.logError(ctx, "accept", err)
		}
		m.metrics.recordUpload(ctx, outcome)
		return err
	}

	m.metrics.recordUpload(ctx, "accepted")
	m.logAction(ctx, slog.LevelInfo, "accept", "accepted",
		slog.String("machine_id", security.MaskIdentifier(rec.MachineID)))
	return nil
}

// Rotate re-seals the stored license under a fresh nonce without changing it.
func (m *Manager) Rotate(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "license.Rotate")
	defer span.End()

	m.mu.Lock()
	_, err := m.issuance.Rotate(ctx)
	m.mu.Unlock()

	m.metrics.recordRotation(ctx, err == nil)
	if err != nil {
		m.logError(ctx, "rotate", err)
		return err
	}
	m.logAction(ctx, slog.LevelInfo, "rotate", "rotated")
	return nil
}

// CurrentExpiryDate returns the expiry of the installed license, valid or not.
// It fails with ErrNoArtifact, ErrMalformedArtifact, ErrDecode or
// ErrPersistence when there is nothing decodable to read.
func (m *Manager) CurrentExpiryDate(ctx context.Context) (*Date, error) {
	ctx, span := m.tracer.Start(ctx, "license.ExpiryDate")
	defer span.End()

	m.mu.RLock()
	d, err := m.validator.ExpiryDate(ctx)
	m.mu.RUnlock()

	if err != nil && !errors.Is(err, ErrNoArtifact) {
		m.logError(ctx, "expiry", err)
	}
	return d, err
}

// MachineRequest returns a token describing this machine for the issuer.
func (m *Manager) MachineRequest(ctx context.Context) (string, error) {
	if m.requestCodec == nil {
		return "", errors.New("machine requests are not configured")
	}
	fp, err := m.fingerprinter.Fingerprint(ctx)
	if err != nil {
		m.logError(ctx, "machine_request", err)
		return "", err
	}
	return EncodeRequest(m.requestCodec, fp)
}
