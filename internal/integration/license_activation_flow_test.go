package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"pixelbarcode/internal/config"
	"pixelbarcode/internal/license"
	customMiddleware "pixelbarcode/internal/middleware"
	"pixelbarcode/internal/security"
	"pixelbarcode/internal/services"
	handlers "pixelbarcode/internal/transport/http"
	"pixelbarcode/internal/websocket"
)

const secret = "PixelSecretKey"

var (
	customer = security.Fingerprint{MachineID: "1679091c5a880faf6fb5e6087eb1b2dc", CPU: "Intel(R) Core(TM) i7-10510U CPU @ 1.80GHz"}
	intruder = security.Fingerprint{MachineID: "8f14e45fceea167a5a36dedd4bea2543", CPU: "Intel(R) Core(TM) i7-10510U CPU @ 1.80GHz"}
)

// LicenseActivationFlowTestSuite drives the full activation flow over HTTP
type LicenseActivationFlowTestSuite struct {
	suite.Suite

	licenseFile  string
	codec        *security.Codec
	requestCodec *security.Codec
	manager      *license.Manager
	hub          *websocket.Hub
	server       *httptest.Server
	stopHub      context.CancelFunc

	mu  sync.Mutex
	now time.Time
}

func TestLicenseActivationFlow(t *testing.T) {
	suite.Run(t, new(LicenseActivationFlowTestSuite))
}

func (s *LicenseActivationFlowTestSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *LicenseActivationFlowTestSuite) setNow(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

func (s *LicenseActivationFlowTestSuite) newManager(fp security.Fingerprint, logger *slog.Logger) *license.Manager {
	return license.NewManager(license.NewStore(s.licenseFile), s.codec, security.StaticFingerprinter(fp),
		license.WithClock(s.clock),
		license.WithLogger(logger),
		license.WithRequestCodec(s.requestCodec),
	)
}

func (s *LicenseActivationFlowTestSuite) SetupTest() {
	var err error
	s.codec, err = security.NewCodec(secret)
	s.Require().NoError(err)
	s.requestCodec, err = security.NewDerivedCodec(secret, license.RequestPurpose)
	s.Require().NoError(err)

	s.licenseFile = filepath.Join(s.T().TempDir(), "license.lic")
	s.setNow(time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.manager = s.newManager(customer, logger)
	s.hub = websocket.NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go func() { _ = s.hub.Run(ctx) }()

	svc := services.NewLicenseService(s.manager, s.hub, logger)
	h := handlers.NewLicenseHandler(svc, 64<<10, logger)
	gate := customMiddleware.NewLicenseGate(s.manager, http.HandlerFunc(h.LicensePage), logger)
	wsCfg := config.Default().WebSocket

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Get("/ws/license", websocket.Handler(s.hub, websocket.NewUpgrader(wsCfg, nil), wsCfg))
	r.Group(func(r chi.Router) {
		r.Use(gate.Handler)
		r.Get("/license", h.LicensePage)
		r.Get("/machine-info", h.MachineInfo)
		r.Mount("/api/license", h.Routes())
		r.Get("/api/barcodes", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"barcodes":[]}`))
		})
	})
	s.server = httptest.NewServer(r)
}

func (s *LicenseActivationFlowTestSuite) TearDownTest() {
	s.server.Close()
	s.stopHub()
}

func (s *LicenseActivationFlowTestSuite) get(path string) (int, map[string]interface{}) {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var body map[string]interface{}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (s *LicenseActivationFlowTestSuite) upload(content []byte) (int, map[string]interface{}) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(handlers.UploadField, "license.lic")
	s.Require().NoError(err)
	_, err = fw.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	resp, err := http.Post(s.server.URL+"/api/license/upload", mw.FormDataContentType(), &buf)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var body map[string]interface{}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// issueFromRequest plays the vendor: it decodes the customer's request token
// and returns the license file bytes.
func (s *LicenseActivationFlowTestSuite) issueFromRequest(token string, start, expiry *license.Date) []byte {
	fp, err := license.DecodeRequest(s.requestCodec, token)
	s.Require().NoError(err)
	art, err := license.Issue(s.codec, fp, start, expiry)
	s.Require().NoError(err)
	data, err := json.MarshalIndent(art, "", "  ")
	s.Require().NoError(err)
	return data
}

func (s *LicenseActivationFlowTestSuite) requestToken() string {
	code, body := s.get("/machine-info")
	s.Require().Equal(http.StatusOK, code)
	token, _ := body["token"].(string)
	s.Require().NotEmpty(token)
	return token
}

func date(y int, m time.Month, d int) *license.Date {
	v := license.NewDate(y, m, d)
	return &v
}

func (s *LicenseActivationFlowTestSuite) TestCompleteActivationFlow() {
	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.server.URL, "http")+"/ws/license", nil)
	s.Require().NoError(err)
	defer conn.Close()
	var hello websocket.Message
	s.Require().NoError(conn.ReadJSON(&hello))
	s.Require().Eventually(func() bool { return s.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	code, _ := s.get("/api/barcodes")
	s.Equal(http.StatusPreconditionRequired, code)

	file := s.issueFromRequest(s.requestToken(), nil, date(2026, time.August, 31))
	code, body := s.upload(file)
	s.Require().Equal(http.StatusOK, code, body)
	s.Equal("success", body["status"])

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var event websocket.Message
	s.Require().NoError(conn.ReadJSON(&event))
	s.Equal(websocket.TypeLicenseStatus, event.Type)

	code, _ = s.get("/api/barcodes")
	s.Equal(http.StatusOK, code)

	stored, err := os.ReadFile(s.licenseFile)
	s.Require().NoError(err)
	s.NotEqual(file, stored, "accepted license must be re-sealed")

	code, body = s.get("/api/license/info")
	s.Equal(http.StatusOK, code)
	s.Equal("2026-08-31", body["expiryDate"])
}

func (s *LicenseActivationFlowTestSuite) TestLicenseLapses() {
	file := s.issueFromRequest(s.requestToken(), date(2025, time.September, 1), date(2025, time.September, 30))
	code, _ := s.upload(file)
	s.Require().Equal(http.StatusOK, code)

	s.setNow(time.Date(2025, time.September, 30, 23, 59, 0, 0, time.UTC))
	code, _ = s.get("/api/barcodes")
	s.Equal(http.StatusOK, code, "expiry day is still valid")

	s.setNow(time.Date(2025, time.October, 1, 0, 0, 1, 0, time.UTC))
	code, _ = s.get("/api/barcodes")
	s.Equal(http.StatusPreconditionRequired, code)

	_, body := s.get("/api/license/status")
	s.Equal("invalid", body["state"])
	s.Equal("expired", body["reason"])
}

func (s *LicenseActivationFlowTestSuite) TestCopiedLicenseDoesNotTransfer() {
	file := s.issueFromRequest(s.requestToken(), nil, date(2030, time.January, 1))
	code, _ := s.upload(file)
	s.Require().Equal(http.StatusOK, code)

	other := s.newManager(intruder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	st, err := other.Status(context.Background())
	s.Require().NoError(err)
	s.Equal(license.Invalid, st.State)
	s.Equal(license.ReasonBindingMismatch, st.Reason)
}

func (s *LicenseActivationFlowTestSuite) TestTamperedFileRecoversOnReupload() {
	file := s.issueFromRequest(s.requestToken(), nil, date(2030, time.January, 1))
	code, _ := s.upload(file)
	s.Require().Equal(http.StatusOK, code)

	var art license.Artifact
	data, err := os.ReadFile(s.licenseFile)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(data, &art))
	last := art.License[len(art.License)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	art.License = art.License[:len(art.License)-1] + string(flipped)
	data, err = json.Marshal(art)
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(s.licenseFile, data, 0600))

	_, body := s.get("/api/license/status")
	s.Equal("invalid", body["state"])
	s.Equal("decode-failure", body["reason"])

	code, _ = s.get("/api/barcodes")
	s.Equal(http.StatusPreconditionRequired, code)

	code, _ = s.upload(file)
	s.Require().Equal(http.StatusOK, code)
	code, _ = s.get("/api/barcodes")
	s.Equal(http.StatusOK, code)
}

func (s *LicenseActivationFlowTestSuite) TestIntruderLicenseRejectedAndLeavesNoFile() {
	token, err := license.EncodeRequest(s.requestCodec, intruder)
	s.Require().NoError(err)

	code, body := s.upload(s.issueFromRequest(token, nil, date(2030, time.January, 1)))
	s.Equal(http.StatusBadRequest, code)
	s.Equal("wrong-machine", body["category"])

	_, err = os.Stat(s.licenseFile)
	s.True(os.IsNotExist(err))

	_, body = s.get("/api/license/status")
	s.Equal("no-license", body["state"])
}
