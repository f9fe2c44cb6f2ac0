package ultimaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelangel-nubla/homeassistant-ultimaker/pkg/config"
)

// scriptedSource returns canned results in sequence, repeating the last one.
type scriptedSource struct {
	script []func() (Snapshot, error)
	calls  int
}

func (s *scriptedSource) FetchState(ctx context.Context) (Snapshot, error) {
	idx := s.calls
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	s.calls++
	return s.script[idx]()
}

func succeedWith(snap Snapshot) func() (Snapshot, error) {
	return func() (Snapshot, error) {
		return snap.Clone(), nil
	}
}

func failWith(err error) func() (Snapshot, error) {
	return func() (Snapshot, error) {
		return nil, err
	}
}

func testPrinterConfig() config.PrinterConfig {
	return config.PrinterConfig{
		ID:          "workshop",
		API:         config.APITypeLocal,
		Host:        "192.168.1.50",
		MaxFailures: 3,
		Timeout:     5,
	}
}

func newTestPoller(source Source) *Poller {
	poller := NewPoller(testPrinterConfig(), source, nil, testLogger())
	fixed := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	poller.SetClock(func() time.Time { return fixed })
	return poller
}

func TestRefresh_Success(t *testing.T) {
	source := &scriptedSource{script: []func() (Snapshot, error){
		succeedWith(Snapshot{
			KeyStatus:   "printing",
			KeyState:    "printing",
			KeyProgress: 0.45,
		}),
	}}
	poller := newTestPoller(source)

	snap, err := poller.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "printing", snap.GetString(KeyStatus))
	assert.Equal(t, StatusPrinting, snap.GetString(KeyActivity))
	assert.Equal(t, "2025-03-14T10:00:00Z", snap.GetString(KeySampleTime))
	assert.False(t, snap.UsingCachedData())
	assert.Equal(t, 0, poller.ConsecutiveFailures())

	// Default-fill ran even though the raw payload had no bed data.
	bedTemp, ok := snap.GetFloat("bed", "temperature", "current")
	require.True(t, ok)
	assert.Equal(t, 0.0, bedTemp)
}

func TestRefresh_SoftFailureServesCachedData(t *testing.T) {
	fetchErr := &FetchError{Kind: ErrKindConnection, URL: "http://printer", Err: errors.New("refused")}
	source := &scriptedSource{script: []func() (Snapshot, error){
		succeedWith(Snapshot{KeyStatus: "printing", KeyState: "printing", KeyProgress: 0.5}),
		failWith(fetchErr),
	}}
	poller := newTestPoller(source)

	_, err := poller.Refresh(context.Background())
	require.NoError(t, err)

	// MaxFailures=3: three consecutive failures are absorbed.
	for i := 1; i <= 3; i++ {
		snap, err := poller.Refresh(context.Background())
		require.NoError(t, err, "failure %d should be soft", i)
		assert.True(t, snap.UsingCachedData())
		assert.Equal(t, "printing", snap.GetString(KeyStatus))
		assert.Equal(t, i, poller.ConsecutiveFailures())
	}

	// The fourth consecutive failure is hard.
	snap, err := poller.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusNotConnected, snap.GetString(KeyStatus))
	assert.Equal(t, StatusNotConnected, snap.GetString(KeyActivity))
	assert.Equal(t, 4, poller.ConsecutiveFailures())
}

func TestRefresh_RecoveryResetsFailureCount(t *testing.T) {
	fetchErr := &FetchError{Kind: ErrKindConnection, URL: "http://printer", Err: errors.New("refused")}
	source := &scriptedSource{script: []func() (Snapshot, error){
		succeedWith(Snapshot{KeyStatus: "idle"}),
		failWith(fetchErr),
		failWith(fetchErr),
		succeedWith(Snapshot{KeyStatus: "idle"}),
	}}
	poller := newTestPoller(source)

	_, err := poller.Refresh(context.Background())
	require.NoError(t, err)
	_, _ = poller.Refresh(context.Background())
	_, _ = poller.Refresh(context.Background())
	assert.Equal(t, 2, poller.ConsecutiveFailures())

	snap, err := poller.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.UsingCachedData())
	assert.Equal(t, 0, poller.ConsecutiveFailures())
}

func TestRefresh_TimeoutWithoutCache(t *testing.T) {
	fetchErr := &FetchError{Kind: ErrKindTimeout, URL: "http://printer", Err: context.DeadlineExceeded}
	source := &scriptedSource{script: []func() (Snapshot, error){failWith(fetchErr)}}
	poller := newTestPoller(source)

	// No last-known-good snapshot exists, so even the first failure is hard.
	snap, err := poller.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusTimeout, snap.GetString(KeyStatus))
	assert.Equal(t, StatusTimeout, snap.GetString(KeyActivity))
	assert.Equal(t, "2025-03-14T10:00:00Z", snap.GetString(KeySampleTime))
}

func TestRefresh_NotConfiguredFailsImmediately(t *testing.T) {
	source := &scriptedSource{script: []func() (Snapshot, error){
		succeedWith(Snapshot{KeyStatus: "idle"}),
		failWith(ErrNotConfigured),
	}}
	poller := newTestPoller(source)

	_, err := poller.Refresh(context.Background())
	require.NoError(t, err)

	// Misconfiguration never falls back to cached data.
	snap, err := poller.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusNotConfigured, snap.GetString(KeyStatus))
}

func TestRefresh_AuthRejectionSkipsCache(t *testing.T) {
	authErr := fmt.Errorf("token refresh rejected: %w", ErrAuthRejected)
	source := &scriptedSource{script: []func() (Snapshot, error){
		succeedWith(Snapshot{KeyStatus: "idle"}),
		failWith(authErr),
	}}
	poller := newTestPoller(source)

	_, err := poller.Refresh(context.Background())
	require.NoError(t, err)

	// Dead credentials must fail immediately; cached data would mask them.
	snap, err := poller.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, snap.UsingCachedData())
	assert.Equal(t, StatusError, snap.GetString(KeyStatus))
	assert.Equal(t, StatusError, snap.GetString(KeyActivity))
}

func TestRefresh_CachedSnapshotIsACopy(t *testing.T) {
	fetchErr := &FetchError{Kind: ErrKindConnection, URL: "http://printer", Err: errors.New("refused")}
	source := &scriptedSource{script: []func() (Snapshot, error){
		succeedWith(Snapshot{KeyStatus: "printing", KeyState: "printing", KeyProgress: 0.5}),
		failWith(fetchErr),
	}}
	poller := newTestPoller(source)

	_, err := poller.Refresh(context.Background())
	require.NoError(t, err)

	cached, err := poller.Refresh(context.Background())
	require.NoError(t, err)
	cached[KeyStatus] = "mutated"

	// The poller's own cache must be unaffected by consumer writes, and it
	// never carries the cached-data flag itself.
	lastGood := poller.LastGood()
	assert.Equal(t, "printing", lastGood.GetString(KeyStatus))
	assert.False(t, lastGood.UsingCachedData())
}

func TestSentinelStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not configured", ErrNotConfigured, StatusNotConfigured},
		{"auth rejected", ErrAuthRejected, StatusError},
		{"timeout", &FetchError{Kind: ErrKindTimeout, Err: context.DeadlineExceeded}, StatusTimeout},
		{"connection", &FetchError{Kind: ErrKindConnection, Err: errors.New("refused")}, StatusNotConnected},
		{"empty payload", ErrEmptyPayload, StatusNotConnected},
		{"anything else", errors.New("boom"), StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sentinelStatus(tt.err))
		})
	}
}
