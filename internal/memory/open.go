package memory

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/db"
	"github.com/sells-group/dnm-router/internal/resilience"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and tunes the decision store.
type Config struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
	// Cache serves reads from an in-memory index over the backend.
	Cache bool `yaml:"cache" mapstructure:"cache"`

	RetryAttempts     int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	RetryMaxBackoffMs int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	CircuitThreshold  int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs  int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// Open builds the configured store: backend, then retry and circuit breaking,
// then the optional read index on top.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var backend Store
	switch cfg.Driver {
	case DriverMemory:
		return NewMemStore(), nil
	case DriverSQLite, "":
		s, err := NewSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		backend = s
	case DriverPostgres:
		s, err := NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
		if err != nil {
			return nil, err
		}
		backend = s
	default:
		return nil, eris.Errorf("memory: unknown driver %q", cfg.Driver)
	}

	var store Store = NewResilient(backend,
		resilience.FromRetryConfig(cfg.RetryAttempts, cfg.RetryBackoffMs, cfg.RetryMaxBackoffMs),
		resilience.FromCircuitConfig(cfg.CircuitThreshold, cfg.CircuitResetSecs),
	)
	if cfg.Cache {
		c, err := NewCached(ctx, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = c
	}

	zap.L().Info("memory: store opened",
		zap.String("driver", cfg.Driver),
		zap.Bool("cache", cfg.Cache),
	)
	return store, nil
}

// BreakerOf returns the circuit breaker guarding s, or nil for stores built
// without one.
func BreakerOf(s Store) *resilience.CircuitBreaker {
	switch v := s.(type) {
	case *Resilient:
		return v.Breaker()
	case *Cached:
		return BreakerOf(v.backend)
	default:
		return nil
	}
}
