package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "pixelbarcode/internal/errors"
	"pixelbarcode/internal/infrastructure"
	"pixelbarcode/internal/services"
)

// UploadField is the multipart field carrying the license file
const UploadField = "license"

// Upload outcome messages
const (
	MsgUploadSuccess = "License uploaded and validated."
)

// UploadResponse is returned after a successful upload
type UploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service        services.LicenseService
	maxUploadBytes int64
	tracer         trace.Tracer
	logger         *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, maxUploadBytes int64, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		tracer:         otel.Tracer("license-handler"),
		logger:         logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the /api/license sub-router. uploadMiddleware applies to the
// upload route only.
func (h *LicenseHandler) Routes(uploadMiddleware ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.Status)
	r.With(uploadMiddleware...).Post("/upload", h.Upload)
	r.Get("/info", h.Info)
	r.Get("/machine-info", h.MachineInfo)
	return r
}

// Status handles GET /api/license/status
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.service.Status(ctx)
	if err != nil {
		h.fail(w, r, "status", err)
		return
	}
	render.JSON(w, r, resp)
}

// Upload handles POST /license-upload and POST /api/license/upload
func (h *LicenseHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.upload",
		trace.WithAttributes(attribute.String("http.route", r.URL.Path)))
	defer span.End()
	r = r.WithContext(ctx)

	raw, err := h.readUpload(w, r)
	if err != nil {
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			render.Render(w, r, apperrors.NewProblemDetails(http.StatusRequestEntityTooLarge,
				apperrors.TypePayloadTooLarge, "Payload Too Large",
				"The license file exceeds the upload limit.", r.URL.Path))
			return
		}
		h.logger.InfoContext(ctx, "upload without license file", slog.String("error", err.Error()))
		render.Render(w, r, apperrors.NewProblemDetails(http.StatusBadRequest,
			apperrors.TypeValidation, "Bad Request", apperrors.MsgNoLicenseFile, r.URL.Path).
			WithTraceID(infrastructure.GetTraceID(ctx)))
		return
	}

	if err := h.service.Upload(ctx, raw); err != nil {
		span.RecordError(err)
		h.failWith(w, r, "upload", apperrors.MapLicenseUploadError(err, r.URL.Path), err)
		return
	}

	render.JSON(w, r, UploadResponse{Status: "success", Message: MsgUploadSuccess})
}

// readUpload returns the bytes of the license form file
func (h *LicenseHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > h.maxUploadBytes {
		return nil, &http.MaxBytesError{Limit: h.maxUploadBytes}
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile(UploadField)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// Info handles GET /license-info and GET /api/license/info
func (h *LicenseHandler) Info(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ExpiryDate(r.Context())
	if err != nil {
		h.fail(w, r, "info", err)
		return
	}
	render.JSON(w, r, resp)
}

// MachineInfo handles GET /machine-info and GET /api/license/machine-info
func (h *LicenseHandler) MachineInfo(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.MachineToken(r.Context())
	if err != nil {
		h.fail(w, r, "machine_info", err)
		return
	}
	render.JSON(w, r, resp)
}

func (h *LicenseHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.failWith(w, r, op, apperrors.MapLicenseError(err, r.URL.Path), err)
}

func (h *LicenseHandler) failWith(w http.ResponseWriter, r *http.Request, op string, problem *apperrors.ProblemDetails, err error) {
	ctx := r.Context()
	problem = problem.WithTraceID(infrastructure.GetTraceID(ctx))

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "license request failed",
		slog.String("operation", op),
		slog.Int("status", problem.Status),
		slog.String("error", err.Error()))

	render.Render(w, r, problem)
}
