package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"pixelbarcode/internal/config"
	"pixelbarcode/internal/infrastructure"
	"pixelbarcode/internal/license"
	customMiddleware "pixelbarcode/internal/middleware"
	"pixelbarcode/internal/security"
	"pixelbarcode/internal/services"
	handlers "pixelbarcode/internal/transport/http"
	ws "pixelbarcode/internal/websocket"
)

const AppName = "Pixel Barcode"

var (
	// Version and BuildTime are set at link time
	Version   = "dev"
	BuildTime = ""
)

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	License        *LicenseComponents
	WebSocketHub   *ws.Hub
	LicenseService services.LicenseService
	HealthService  *services.HealthService
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
}

// NewApplication creates the application. A nil cfg loads the configuration
// from the environment.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("license_file", cfg.LicensePath()))

	return newApplication(cfg, security.NewHostFingerprinter(logger), logger)
}

func newApplication(cfg *config.Config, fp security.Fingerprinter, logger *slog.Logger) (*Application, error) {
	telemetry := cfg.Telemetry
	if telemetry.ServiceVersion == "" {
		telemetry.ServiceVersion = Version
	}
	providers, err := infrastructure.InitializeOTel(telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	lic, err := NewLicenseComponents(cfg, fp, providers.Meter, providers.Tracer, logger)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger)
	licenseService := services.NewLicenseService(lic.Manager, hub, logger)

	a := &Application{
		Config:         cfg,
		License:        lic,
		WebSocketHub:   hub,
		LicenseService: licenseService,
		HealthService:  services.NewHealthService(Version, BuildTime, licenseService, hub, logger),
		Logger:         logger,
		OTelProviders:  providers,
	}

	if err := a.setupRouter(); err != nil {
		return nil, err
	}
	a.Server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

func (a *Application) setupRouter() error {
	httpMetrics, err := infrastructure.NewHTTPMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	licenseHandler := handlers.NewLicenseHandler(a.LicenseService, a.Config.Server.MaxUploadBytes, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
	gate := customMiddleware.NewLicenseGate(a.License.Manager, http.HandlerFunc(licenseHandler.LicensePage), a.Logger)

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// The websocket stream stays outside the logging middleware, which wraps
	// the ResponseWriter and would break hijacking.
	upgrader := ws.NewUpgrader(a.Config.WebSocket, a.Config.Server.AllowedOrigins)
	r.Get("/ws/license", ws.Handler(a.WebSocketHub, upgrader, a.Config.WebSocket))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger, httpMetrics))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
		r.Use(gate.Handler)

		var uploadLimits []func(http.Handler) http.Handler
		if rl := a.Config.Server.RateLimit; rl.Enabled {
			uploadLimits = append(uploadLimits, customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
		}

		r.Get("/license", licenseHandler.LicensePage)
		r.With(uploadLimits...).Post("/license-upload", licenseHandler.Upload)
		r.Get("/license-info", licenseHandler.Info)
		r.Get("/machine-info", licenseHandler.MachineInfo)
		r.Mount("/api/license", licenseHandler.Routes(uploadLimits...))

		r.Get("/api/health", healthHandler.HealthCheck)

		// Everything below requires a valid license
		r.Get("/api/version", healthHandler.Version)
		r.Get("/", a.home)
	})

	a.Router = r
	return nil
}

// home is the licensed landing route
func (a *Application) home(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"name":    AppName,
		"version": Version,
		"status":  "licensed",
	})
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logStartupLicense(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.WebSocketHub.Run(gctx)
	})
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening", slog.String("address", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// logStartupLicense reports the license state once at boot
func (a *Application) logStartupLicense(ctx context.Context) {
	st, err := a.License.Manager.Status(ctx)
	if err != nil {
		a.Logger.ErrorContext(ctx, "Startup license check failed", slog.String("error", err.Error()))
		return
	}
	attrs := []any{slog.String("state", st.State.String())}
	if st.Reason != license.ReasonNone {
		attrs = append(attrs, slog.String("reason", string(st.Reason)))
	}
	a.Logger.InfoContext(ctx, "Startup license check", attrs...)
}

// Stop gracefully stops the HTTP server and flushes telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown error: %w", err))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}
