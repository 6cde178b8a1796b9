package license

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const TracerName = "license-manager"

// Metrics holds the license instruments
type Metrics struct {
	Checks        metric.Int64Counter
	CheckDuration metric.Float64Histogram
	Uploads       metric.Int64Counter
	Rotations     metric.Int64Counter
}

// NewMetrics registers the license instruments on meter. A nil meter yields
// no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(TracerName)
	}

	checks, err := meter.Int64Counter(
		"license_checks_total",
		metric.WithDescription("License checks by resulting state"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"license_check_duration_seconds",
		metric.WithDescription("Time spent computing the license state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	uploads, err := meter.Int64Counter(
		"license_uploads_total",
		metric.WithDescription("License uploads by outcome"),
	)
	if err != nil {
		return nil, err
	}

	rotations, err := meter.Int64Counter(
		"license_rotations_total",
		metric.WithDescription("Token rotations of the stored license"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Checks:        checks,
		CheckDuration: duration,
		Uploads:       uploads,
		Rotations:     rotations,
	}, nil
}

func (m *Metrics) recordCheck(ctx context.Context, st Status, err error, elapsed time.Duration) {
	state := st.State.String()
	if err != nil {
		state = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("reason", string(st.Reason)),
	)
	m.Checks.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) recordUpload(ctx context.Context, outcome string) {
	m.Uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordRotation(ctx context.Context, success bool) {
	m.Rotations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
