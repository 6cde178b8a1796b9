package license

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshInstallScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)

	state, err := f.manager.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoLicense, state)

	expiry := NewDate(2026, time.June, 15)
	upload := f.artifactFor(t, thisMachine, datePtr(NewDate(2025, time.January, 1)), &expiry)
	require.NoError(t, f.manager.AcceptUploadedArtifact(ctx, upload))

	valid, err := f.manager.IsLicenseValid(ctx)
	require.NoError(t, err)
	assert.True(t, valid)

	got, err := f.manager.CurrentExpiryDate(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, expiry, *got)
}

func TestAcceptRotatesNonce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)

	upload := f.artifactFor(t, thisMachine, nil, datePtr(NewDate(2026, time.January, 1)))
	uploaded, err := ParseArtifact(upload)
	require.NoError(t, err)

	require.NoError(t, f.manager.AcceptUploadedArtifact(ctx, upload))

	stored, err := f.store.Load()
	require.NoError(t, err)
	assert.NotEqual(t, uploaded.License, stored.License)

	var before, after Record
	require.NoError(t, f.codec.Decode(uploaded.License, &before))
	require.NoError(t, f.codec.Decode(stored.License, &after))
	assert.Equal(t, before, after)
}

func TestWrongMachineUploadScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)

	upload := f.artifactFor(t, otherMachine, nil, nil)
	err := f.manager.AcceptUploadedArtifact(ctx, upload)

	reason, ok := IsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, RejectNotBoundToThisMachine, reason)
	assert.ErrorIs(t, err, ErrBindingMismatch)
	assert.NoFileExists(t, f.store.Path())

	state, err := f.manager.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoLicense, state)
}

func TestAcceptMalformedUploads(t *testing.T) {
	tests := []struct {
		name   string
		upload []byte
	}{
		{name: "not json", upload: []byte("hello")},
		{name: "no token", upload: []byte(`{"licence":"x"}`)},
		{name: "garbage token", upload: []byte(`{"license":"00:00"}`)},
		{name: "empty", upload: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, thisMachine)
			err := f.manager.AcceptUploadedArtifact(context.Background(), tt.upload)

			reason, ok := IsRejection(err)
			require.True(t, ok, "expected rejection, got %v", err)
			assert.Equal(t, RejectMalformed, reason)
			assert.NoFileExists(t, f.store.Path())
		})
	}
}

func TestAcceptStartAfterExpiryIsMalformed(t *testing.T) {
	f := newFixture(t, thisMachine)
	f.install(t, Record{
		MachineID: thisMachine.MachineID,
		CPU:       thisMachine.CPU,
		Start:     datePtr(NewDate(2025, time.July, 1)),
		Expiry:    datePtr(NewDate(2025, time.June, 1)),
	})
	upload, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	require.NoError(t, f.store.Remove())

	err = f.manager.AcceptUploadedArtifact(context.Background(), upload)
	reason, ok := IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, RejectMalformed, reason)
	assert.NoFileExists(t, f.store.Path())
}

func TestRejectedUploadReplacesPriorLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)
	require.NoError(t, f.manager.AcceptUploadedArtifact(ctx, f.artifactFor(t, thisMachine, nil, nil)))

	err := f.manager.AcceptUploadedArtifact(ctx, f.artifactFor(t, otherMachine, nil, nil))
	_, ok := IsRejection(err)
	require.True(t, ok)

	state, err := f.manager.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoLicense, state)
}

func TestAcceptPersistenceFailureIsNotRejection(t *testing.T) {
	f := newFixture(t, thisMachine)
	require.NoError(t, os.Mkdir(f.store.Path(), 0700))
	require.NoError(t, os.WriteFile(f.store.Path()+"/keep", nil, 0600))

	err := f.manager.AcceptUploadedArtifact(context.Background(), f.artifactFor(t, thisMachine, nil, nil))
	require.Error(t, err)
	_, rejected := IsRejection(err)
	assert.False(t, rejected)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestExpiredLicenseScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)
	yesterday := Today(f.clock()).AddDays(-1)
	f.install(t, Record{MachineID: thisMachine.MachineID, CPU: thisMachine.CPU, Expiry: &yesterday})

	st, err := f.manager.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Invalid, st.State)
	assert.Equal(t, ReasonExpired, st.Reason)

	got, err := f.manager.CurrentExpiryDate(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, yesterday, *got)
}

func TestCurrentExpiryDateFailures(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, thisMachine)
	_, err := f.manager.CurrentExpiryDate(ctx)
	assert.ErrorIs(t, err, ErrNoArtifact)

	require.NoError(t, os.WriteFile(f.store.Path(), []byte("nope"), 0600))
	_, err = f.manager.CurrentExpiryDate(ctx)
	assert.ErrorIs(t, err, ErrMalformedArtifact)

	require.NoError(t, f.store.Save(Artifact{License: "00:00"}))
	_, err = f.manager.CurrentExpiryDate(ctx)
	assert.ErrorIs(t, err, ErrDecode)

	f.install(t, Record{MachineID: "m", CPU: "c"})
	got, err := f.manager.CurrentExpiryDate(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)

	assert.ErrorIs(t, f.manager.Rotate(ctx), ErrNoArtifact)

	rec := Record{MachineID: thisMachine.MachineID, CPU: thisMachine.CPU, Expiry: datePtr(NewDate(2030, time.January, 1))}
	f.install(t, rec)
	before, err := f.store.Load()
	require.NoError(t, err)

	require.NoError(t, f.manager.Rotate(ctx))

	after, err := f.store.Load()
	require.NoError(t, err)
	assert.NotEqual(t, before.License, after.License)

	var got Record
	require.NoError(t, f.codec.Decode(after.License, &got))
	assert.Equal(t, rec, got)
}

func TestConcurrentChecksAndUploads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, thisMachine)
	good := f.artifactFor(t, thisMachine, nil, nil)
	bad := f.artifactFor(t, otherMachine, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			upload := good
			if i%2 == 1 {
				upload = bad
			}
			_ = f.manager.AcceptUploadedArtifact(ctx, upload)
		}(i)
		go func() {
			defer wg.Done()
			st, err := f.manager.Status(ctx)
			assert.NoError(t, err)
			// A check never sees a half-written or rejected candidate.
			assert.NotEqual(t, ReasonMalformed, st.Reason)
			assert.NotEqual(t, ReasonDecodeFailure, st.Reason)
			assert.NotEqual(t, ReasonBindingMismatch, st.Reason)
		}()
	}
	wg.Wait()

	require.NoError(t, f.manager.AcceptUploadedArtifact(ctx, good))
	state, err := f.manager.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, Valid, state)
}
