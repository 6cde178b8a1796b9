package services

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pixelbarcode/internal/infrastructure"
	"pixelbarcode/internal/license"
	ws "pixelbarcode/internal/websocket"
)

// LicenseService provides the license operations exposed over HTTP
type LicenseService interface {
	Status(ctx context.Context) (*LicenseStatusResponse, error)
	Upload(ctx context.Context, raw []byte) error
	ExpiryDate(ctx context.Context) (*ExpiryResponse, error)
	MachineToken(ctx context.Context) (*MachineTokenResponse, error)
}

// LicenseStatusResponse is the body of GET /api/license/status
type LicenseStatusResponse struct {
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty"`
	StartDate  string `json:"startDate,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

// Valid reports whether the response describes a usable license
func (r *LicenseStatusResponse) Valid() bool {
	return r.State == license.Valid.String()
}

// ExpiryResponse is the body of GET /license-info
type ExpiryResponse struct {
	ExpiryDate string `json:"expiryDate"`
}

// MachineTokenResponse is the body of GET /machine-info
type MachineTokenResponse struct {
	Token string `json:"token"`
}

// LicenseStatusEvent is broadcast after the installed license changes
type LicenseStatusEvent struct {
	State      string `json:"state"`
	ExpiryDate string `json:"expiryDate,omitempty"`
}

type licenseService struct {
	manager LicenseManager
	events  Broadcaster
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewLicenseService creates a license service. events may be nil.
func NewLicenseService(manager LicenseManager, events Broadcaster, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager: manager,
		events:  events,
		tracer:  otel.Tracer("license-service"),
		logger:  logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) Status(ctx context.Context) (*LicenseStatusResponse, error) {
	st, err := s.manager.Status(ctx)
	if err != nil {
		return nil, err
	}
	resp := statusResponse(st)
	resp.TraceID = infrastructure.GetTraceID(ctx)
	return resp, nil
}

// Upload installs raw as the license and announces the new state
func (s *licenseService) Upload(ctx context.Context, raw []byte) error {
	ctx, span := s.tracer.Start(ctx, "license_service.upload",
		trace.WithAttributes(attribute.Int("upload.bytes", len(raw))))
	defer span.End()

	if err := s.manager.AcceptUploadedArtifact(ctx, raw); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.InfoContext(ctx, "license uploaded", slog.String("path", s.manager.Path()))
	s.announce(ctx)
	return nil
}

// announce broadcasts the post-upload state. Failures only affect listeners.
func (s *licenseService) announce(ctx context.Context) {
	if s.events == nil {
		return
	}
	st, err := s.manager.Status(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "license status unavailable for broadcast",
			slog.String("error", err.Error()))
		return
	}
	resp := statusResponse(st)
	s.events.Broadcast(ctx, ws.TypeLicenseStatus, LicenseStatusEvent{
		State:      resp.State,
		ExpiryDate: resp.ExpiryDate,
	}, infrastructure.GetTraceID(ctx))
}

func (s *licenseService) ExpiryDate(ctx context.Context) (*ExpiryResponse, error) {
	d, err := s.manager.CurrentExpiryDate(ctx)
	if err != nil {
		return nil, err
	}
	resp := &ExpiryResponse{}
	if d != nil {
		resp.ExpiryDate = d.String()
	}
	return resp, nil
}

func (s *licenseService) MachineToken(ctx context.Context) (*MachineTokenResponse, error) {
	token, err := s.manager.MachineRequest(ctx)
	if err != nil {
		return nil, err
	}
	return &MachineTokenResponse{Token: token}, nil
}

func statusResponse(st license.Status) *LicenseStatusResponse {
	resp := &LicenseStatusResponse{
		State:  st.State.String(),
		Reason: string(st.Reason),
	}
	if rec := st.Record; rec != nil {
		if rec.Expiry != nil {
			resp.ExpiryDate = rec.Expiry.String()
		}
		if rec.Start != nil {
			resp.StartDate = rec.Start.String()
		}
	}
	return resp
}
