package services

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"time"
)

// LicenseChecker reports the current license state
type LicenseChecker interface {
	Status(ctx context.Context) (*LicenseStatusResponse, error)
}

// ClientCounter reports connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	license   LicenseChecker
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. license and clients may be nil.
func NewHealthService(version, buildTime string, license LicenseChecker, clients ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		license:   license,
		clients:   clients,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health. The process is healthy even without a
// valid license; the license component reports the details.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Uptime:    time.Since(hs.startTime).Round(time.Second).String(),
		Runtime: map[string]interface{}{
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
		},
		Services: map[string]interface{}{},
	}

	if hs.license != nil {
		status.Services["license"] = hs.licenseHealth(ctx)
	}
	if hs.clients != nil {
		status.Services["websocket"] = ServiceHealth{
			Status:  "ok",
			Message: pluralClients(hs.clients.ClientCount()),
		}
	}
	return status
}

func (hs *HealthService) licenseHealth(ctx context.Context) ServiceHealth {
	st, err := hs.license.Status(ctx)
	if err != nil {
		hs.logger.WarnContext(ctx, "license health check failed", slog.String("error", err.Error()))
		return ServiceHealth{Status: "error", Message: err.Error()}
	}
	if st.Valid() {
		return ServiceHealth{Status: "ok", Message: "valid until " + st.ExpiryDate}
	}
	msg := st.State
	if st.Reason != "" {
		msg += ": " + st.Reason
	}
	return ServiceHealth{Status: "degraded", Message: msg}
}

// Version returns build information
func (hs *HealthService) Version() map[string]string {
	return map[string]string{
		"version":    hs.version,
		"build_time": hs.buildTime,
		"go_version": runtime.Version(),
	}
}

func pluralClients(n int) string {
	if n == 1 {
		return "1 client connected"
	}
	return strconv.Itoa(n) + " clients connected"
}
