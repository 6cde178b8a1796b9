package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "pixelbarcode/internal/errors"
	"pixelbarcode/internal/infrastructure"
	"pixelbarcode/internal/license"
)

// LicenseGate blocks requests unless the license is valid. The state is
// recomputed for every request.
type LicenseGate struct {
	checker         LicenseChecker
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string
	activationPage  http.Handler
}

// DefaultExcludedPaths stay reachable without a license so the user can
// activate the installation.
var DefaultExcludedPaths = []string{
	"/license",
	"/license-upload",
	"/machine-info",
	"/api/health",
	"/metrics",
	"/ws/license",
	"/favicon.ico",
}

// DefaultExcludedPrefixes are matched with strings.HasPrefix
var DefaultExcludedPrefixes = []string{
	"/api/license/",
}

// NewLicenseGate creates the gate. activationPage, when non-nil, is served to
// browsers instead of a problem document.
func NewLicenseGate(checker LicenseChecker, activationPage http.Handler, logger *slog.Logger) *LicenseGate {
	g := &LicenseGate{
		checker:         checker,
		logger:          infrastructure.WithComponent(logger, "license_gate"),
		excludePaths:    make(map[string]struct{}, len(DefaultExcludedPaths)),
		excludePrefixes: DefaultExcludedPrefixes,
		activationPage:  activationPage,
	}
	for _, p := range DefaultExcludedPaths {
		g.excludePaths[p] = struct{}{}
	}
	return g
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := otel.Tracer("license-middleware").Start(r.Context(), "license_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
		defer span.End()
		r = r.WithContext(ctx)

		state, err := g.checker.Check(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.logger.ErrorContext(ctx, "license check failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			render.Render(w, r, g.checkFailure(err, r.URL.Path))
			return
		}

		span.SetAttributes(attribute.String("license.state", state.String()))
		if state == license.Valid {
			next.ServeHTTP(w, r)
			return
		}

		g.logger.WarnContext(ctx, "request blocked by license gate",
			slog.String("path", r.URL.Path),
			slog.String("state", state.String()))

		if g.activationPage != nil && wantsHTML(r) {
			g.activationPage.ServeHTTP(w, r)
			return
		}
		render.Render(w, r, apperrors.NotLicensed(state, r.URL.Path).
			WithTraceID(infrastructure.GetTraceID(ctx)))
	})
}

func (g *LicenseGate) checkFailure(err error, path string) *apperrors.ProblemDetails {
	if errors.Is(err, license.ErrPersistence) {
		return apperrors.NewProblemDetails(http.StatusServiceUnavailable, apperrors.TypeLicenseStorage,
			"License Storage Unavailable", "The license file could not be read.", path)
	}
	return apperrors.MapLicenseError(err, path)
}

// shouldExcludePath checks if a path should be excluded from validation
func (g *LicenseGate) shouldExcludePath(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
