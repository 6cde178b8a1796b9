package app

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pixelbarcode/internal/config"
	"pixelbarcode/internal/license"
	"pixelbarcode/internal/security"
)

// LicenseComponents are the collaborators behind a license.Manager
type LicenseComponents struct {
	Codec        *security.Codec
	RequestCodec *security.Codec
	Store        *license.Store
	Manager      *license.Manager
}

// NewLicenseComponents builds the codecs, store and manager for cfg. meter and
// tracer may be nil.
func NewLicenseComponents(cfg *config.Config, fp security.Fingerprinter, meter metric.Meter, tracer trace.Tracer, logger *slog.Logger) (*LicenseComponents, error) {
	codec, err := security.NewCodec(cfg.License.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create license codec: %w", err)
	}
	requestCodec, err := security.NewDerivedCodec(cfg.License.Secret, license.RequestPurpose)
	if err != nil {
		return nil, fmt.Errorf("failed to create request codec: %w", err)
	}
	metrics, err := license.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	opts := []license.Option{
		license.WithLogger(logger),
		license.WithMetrics(metrics),
		license.WithRequestCodec(requestCodec),
	}
	if tracer != nil {
		opts = append(opts, license.WithTracer(tracer))
	}

	store := license.NewStore(cfg.LicensePath())
	return &LicenseComponents{
		Codec:        codec,
		RequestCodec: requestCodec,
		Store:        store,
		Manager:      license.NewManager(store, codec, fp, opts...),
	}, nil
}
