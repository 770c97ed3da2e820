package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// flakyStore fails the first n writes with err.
type flakyStore struct {
	*MemStore
	failures int
	err      error
	calls    int
}

func (f *flakyStore) StoreOrUpdate(ctx context.Context, ek, rk string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.MemStore.StoreOrUpdate(ctx, ek, rk, confirmed, score, prov)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestResilient_RetriesWriteConflict(t *testing.T) {
	backend := &flakyStore{MemStore: NewMemStore(), failures: 2, err: eris.Wrap(ErrWriteConflict, "busy")}
	r := NewResilient(backend, fastRetry(), resilience.CircuitBreakerConfig{FailureThreshold: 10})

	d, err := r.StoreOrUpdate(context.Background(), "acme", "acme corp", true, 90, model.Provenance{})
	require.NoError(t, err)
	assert.True(t, d.Confirmed)
	assert.Equal(t, 3, backend.calls)
}

func TestResilient_GivesUpOnConflict(t *testing.T) {
	backend := &flakyStore{MemStore: NewMemStore(), failures: 10, err: eris.Wrap(ErrWriteConflict, "busy")}
	r := NewResilient(backend, fastRetry(), resilience.CircuitBreakerConfig{FailureThreshold: 10})

	_, err := r.StoreOrUpdate(context.Background(), "acme", "acme corp", true, 90, model.Provenance{})
	assert.ErrorIs(t, err, ErrWriteConflict)
	assert.Equal(t, 3, backend.calls)
}

func TestResilient_CircuitOpenIsUnavailable(t *testing.T) {
	backend := &flakyStore{MemStore: NewMemStore(), failures: 100, err: errors.New("disk full")}
	r := NewResilient(backend, fastRetry(), resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.StoreOrUpdate(ctx, "acme", "acme corp", true, 90, model.Provenance{})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, r.Breaker().State())

	_, err := r.StoreOrUpdate(ctx, "acme", "acme corp", true, 90, model.Provenance{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, backend.calls, "open circuit must not reach the backend")
}

func TestResilient_InvalidKeyDoesNotTrip(t *testing.T) {
	r := NewResilient(NewMemStore(), fastRetry(), resilience.CircuitBreakerConfig{FailureThreshold: 1})
	_, err := r.StoreOrUpdate(context.Background(), "", "x", true, 90, model.Provenance{})
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, resilience.CircuitClosed, r.Breaker().State())
}

func TestCached_BackendFailureLeavesIndex(t *testing.T) {
	backend := &flakyStore{MemStore: NewMemStore(), failures: 1, err: errors.New("boom")}
	c, err := NewCached(context.Background(), backend)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.StoreOrUpdate(ctx, "acme", "acme corp", true, 90, model.Provenance{})
	require.Error(t, err)
	d, err := c.Lookup(ctx, "acme", "acme corp")
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = c.StoreOrUpdate(ctx, "acme", "acme corp", true, 90, model.Provenance{})
	require.NoError(t, err)
	d, err = c.Lookup(ctx, "acme", "acme corp")
	require.NoError(t, err)
	require.NotNil(t, d)

	stored, err := backend.MemStore.Lookup(ctx, "acme", "acme corp")
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.Equal(d.UpdatedAt), "index mirrors the committed record")
}

func TestCached_LoadsExisting(t *testing.T) {
	backend := NewMemStore()
	ctx := context.Background()
	_, err := backend.StoreOrUpdate(ctx, "acme", "acme corp", false, 60, model.Provenance{})
	require.NoError(t, err)

	c, err := NewCached(ctx, backend)
	require.NoError(t, err)
	d, err := c.Lookup(ctx, "acme", "acme corp")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Confirmed)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	s, err = Open(ctx, Config{Driver: DriverSQLite, DatabaseURL: t.TempDir() + "/m.db", Cache: true})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestSnapshot_JSONAndYAML(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	snap := NewSnapshot([]model.Decision{
		{ExtractedKey: "b", RosterKey: "x", Confirmed: true, Score: 77.5, CreatedAt: now, UpdatedAt: now},
		{ExtractedKey: "a", RosterKey: "y", Score: 51, CreatedAt: now, UpdatedAt: now, Provenance: model.Provenance{PageInfo: "2-3"}},
	}, now)
	assert.Equal(t, "a", snap.Decisions[0].ExtractedKey, "sorted by key")

	for _, f := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteSnapshot(&buf, snap, f))
			got, err := ReadSnapshot(&buf, f)
			require.NoError(t, err)
			require.Len(t, got.Decisions, 2)
			assert.Equal(t, "2-3", got.Decisions[0].Provenance.PageInfo)
			assert.True(t, got.Decisions[1].UpdatedAt.Equal(now))
		})
	}
}

func TestSnapshot_JSONFieldNames(t *testing.T) {
	now := time.Now().UTC()
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, NewSnapshot([]model.Decision{
		{ExtractedKey: "a", RosterKey: "b", Score: 60, CreatedAt: now, UpdatedAt: now},
	}, now), FormatJSON))
	assert.Contains(t, buf.String(), `"extracted_name_key": "a"`)
	assert.Contains(t, buf.String(), `"score_at_decision": 60`)
}

func TestReadSnapshot_Rejects(t *testing.T) {
	_, err := ReadSnapshot(bytes.NewBufferString(`{"version": 99}`), FormatJSON)
	assert.Error(t, err)

	_, err = ReadSnapshot(bytes.NewBufferString(`not json`), FormatJSON)
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("memory.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("memory.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("memory.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("memory"))
}

func TestBreakerOf(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, BreakerOf(NewMemStore()))

	s, err := Open(ctx, Config{Driver: DriverSQLite, DatabaseURL: t.TempDir() + "/m.db", Cache: true, CircuitThreshold: 3})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	b := BreakerOf(s)
	require.NotNil(t, b)
	assert.Equal(t, resilience.CircuitClosed, b.State())
}
