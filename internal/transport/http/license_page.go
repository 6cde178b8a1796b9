package http

import (
	"bytes"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/license.html
var licensePageSource string

var licensePage = template.Must(template.New("license").Parse(licensePageSource))

// LicensePageData feeds the activation page template
type LicensePageData struct {
	Valid      bool
	ExpiryDate string
	State      string
	Reason     string
	Token      string
	Error      string
}

// LicensePage handles GET /license. It also serves as the page shown by the
// license gate to browsers.
func (h *LicenseHandler) LicensePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := LicensePageData{}
	code := http.StatusOK

	status, err := h.service.Status(ctx)
	switch {
	case err != nil:
		h.logger.ErrorContext(ctx, "license page status failed", slog.String("error", err.Error()))
		data.Error = "The license could not be read."
		code = http.StatusInternalServerError
	case status.Valid():
		data.Valid = true
		data.ExpiryDate = status.ExpiryDate
	default:
		data.State = status.State
		data.Reason = status.Reason
		data.ExpiryDate = status.ExpiryDate
	}

	if !data.Valid {
		data.Token = h.machineToken(r)
	}

	var buf bytes.Buffer
	if err := licensePage.Execute(&buf, data); err != nil {
		h.logger.ErrorContext(ctx, "license page render failed", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func (h *LicenseHandler) machineToken(r *http.Request) string {
	resp, err := h.service.MachineToken(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "machine token unavailable", slog.String("error", err.Error()))
		return ""
	}
	return resp.Token
}
