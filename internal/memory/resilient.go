package memory

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/model"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// Resilient retries write conflicts and transient failures of a backend and
// stops calling it while its circuit is open. Calls rejected by the circuit
// return ErrUnavailable.
type Resilient struct {
	backend Store
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewResilient wraps backend.
func NewResilient(backend Store, retry resilience.RetryConfig, circuit resilience.CircuitBreakerConfig) *Resilient {
	retry.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrWriteConflict) || errors.Is(err, ErrUnavailable) || resilience.IsTransient(err)
	}
	circuit.ShouldTrip = func(err error) bool {
		return !errors.Is(err, ErrInvalidKey) && !errors.Is(err, ErrCorrupt)
	}
	circuit.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("memory: circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Resilient{
		backend: backend,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(circuit),
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (r *Resilient) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

func call[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := r.retry
	cfg.OnRetry = resilience.RetryLogger("memory." + op)
	v, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, r.breaker, fn)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		var zero T
		return zero, eris.Wrapf(ErrUnavailable, "memory: %s: circuit open", op)
	}
	return v, err
}

func (r *Resilient) Lookup(ctx context.Context, extractedKey, rosterKey string) (*model.Decision, error) {
	return call(ctx, r, "lookup", func(ctx context.Context) (*model.Decision, error) {
		return r.backend.Lookup(ctx, extractedKey, rosterKey)
	})
}

func (r *Resilient) LookupAll(ctx context.Context, extractedKey string) ([]model.Decision, error) {
	return call(ctx, r, "lookup_all", func(ctx context.Context) ([]model.Decision, error) {
		return r.backend.LookupAll(ctx, extractedKey)
	})
}

func (r *Resilient) StoreOrUpdate(ctx context.Context, extractedKey, rosterKey string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	return call(ctx, r, "store_or_update", func(ctx context.Context) (*model.Decision, error) {
		return r.backend.StoreOrUpdate(ctx, extractedKey, rosterKey, confirmed, score, prov)
	})
}

func (r *Resilient) Delete(ctx context.Context, extractedKey string) (int, error) {
	return call(ctx, r, "delete", func(ctx context.Context) (int, error) {
		return r.backend.Delete(ctx, extractedKey)
	})
}

func (r *Resilient) DeletePair(ctx context.Context, extractedKey, rosterKey string) (bool, error) {
	return call(ctx, r, "delete_pair", func(ctx context.Context) (bool, error) {
		return r.backend.DeletePair(ctx, extractedKey, rosterKey)
	})
}

func (r *Resilient) Export(ctx context.Context) (*Snapshot, error) {
	return call(ctx, r, "export", r.backend.Export)
}

func (r *Resilient) Import(ctx context.Context, snap *Snapshot) (int, error) {
	return call(ctx, r, "import", func(ctx context.Context) (int, error) {
		return r.backend.Import(ctx, snap)
	})
}

func (r *Resilient) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, r, "stats", r.backend.Stats)
}

func (r *Resilient) Close() error {
	return r.backend.Close()
}

var _ Store = (*Resilient)(nil)
