package license

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixelbarcode/internal/security"
)

const testSecret = "PixelSecretKey"

var (
	thisMachine  = security.Fingerprint{MachineID: "8f14e45fceea167a5a36dedd4bea2543", CPU: "Intel(R) Core(TM) i7-9700 CPU @ 3.00GHz"}
	otherMachine = security.Fingerprint{MachineID: "c9f0f895fb98ab9159f51fd0297e236d", CPU: "AMD Ryzen 7 5800X 8-Core Processor"}
)

type fixture struct {
	store   *Store
	codec   *security.Codec
	manager *Manager

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, fp security.Fingerprint) *fixture {
	t.Helper()

	codec, err := security.NewCodec(testSecret)
	require.NoError(t, err)
	requestCodec, err := security.NewDerivedCodec(testSecret, RequestPurpose)
	require.NoError(t, err)

	f := &fixture{
		store: NewStore(filepath.Join(t.TempDir(), "license.lic")),
		codec: codec,
		now:   time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.store, codec, security.StaticFingerprinter(fp),
		WithClock(f.clock),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithRequestCodec(requestCodec),
	)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// artifactFor returns upload bytes in the same shape the issuer writes.
func (f *fixture) artifactFor(t *testing.T, fp security.Fingerprint, start, expiry *Date) []byte {
	t.Helper()
	art, err := Issue(f.codec, fp, start, expiry)
	require.NoError(t, err)
	data, err := json.MarshalIndent(art, "", "  ")
	require.NoError(t, err)
	return data
}

// install writes a record directly, bypassing acceptance.
func (f *fixture) install(t *testing.T, rec Record) {
	t.Helper()
	token, err := f.codec.Encode(rec)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(Artifact{License: token}))
}

func datePtr(d Date) *Date { return &d }

func midday(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}
