// Package memory persists reviewer decisions about (extracted name, roster
// name) pairs so that the same question is never asked twice.
package memory

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dnm-router/internal/model"
)

var (
	// ErrWriteConflict is returned when a concurrent writer held the pair.
	// Safe to retry.
	ErrWriteConflict = eris.New("memory: write conflict")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = eris.New("memory: store unavailable")
	// ErrCorrupt is returned when persisted data fails validation on load.
	// The instance must not be used afterwards.
	ErrCorrupt = eris.New("memory: corrupt store")
	// ErrInvalidKey is returned for blank extracted or roster keys.
	ErrInvalidKey = eris.New("memory: invalid key")
)

// Store is the decision memory. Every mutating call returns only after the
// backend has committed.
type Store interface {
	// Lookup returns the decision for the pair, or nil when absent.
	Lookup(ctx context.Context, extractedKey, rosterKey string) (*model.Decision, error)
	// LookupAll returns every decision for an extracted name, ordered by roster key.
	LookupAll(ctx context.Context, extractedKey string) ([]model.Decision, error)
	// StoreOrUpdate upserts a decision. CreatedAt is kept, UpdatedAt strictly
	// increases per pair and non-empty provenance fields replace stored ones.
	StoreOrUpdate(ctx context.Context, extractedKey, rosterKey string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error)
	// Delete removes every decision for an extracted name and returns the count.
	Delete(ctx context.Context, extractedKey string) (int, error)
	// DeletePair removes the decision for one pair and reports whether it existed.
	DeletePair(ctx context.Context, extractedKey, rosterKey string) (bool, error)
	// Export returns every decision.
	Export(ctx context.Context) (*Snapshot, error)
	// Import merges a snapshot with the StoreOrUpdate rule: every imported
	// decision overwrites the stored one, CreatedAt is kept and UpdatedAt moves
	// past the stored value. Decisions absent from the snapshot are never removed.
	Import(ctx context.Context, snap *Snapshot) (int, error)
	// Stats summarizes the store.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes the decision memory.
type Stats struct {
	UniqueNames    int     `json:"unique_names" yaml:"unique_names"`
	TotalDecisions int     `json:"total_decisions" yaml:"total_decisions"`
	ConfirmedCount int     `json:"confirmed_count" yaml:"confirmed_count"`
	RejectedCount  int     `json:"rejected_count" yaml:"rejected_count"`
	AvgScore       float64 `json:"avg_score" yaml:"avg_score"`
}

// IsRetryable reports whether err is a write conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}

func checkKeys(extractedKey, rosterKey string) error {
	if strings.TrimSpace(extractedKey) == "" || strings.TrimSpace(rosterKey) == "" {
		return eris.Wrapf(ErrInvalidKey, "extracted=%q roster=%q", extractedKey, rosterKey)
	}
	return nil
}

// validate checks a decision loaded from a backend or a snapshot.
func validate(d model.Decision) error {
	if err := checkKeys(d.ExtractedKey, d.RosterKey); err != nil {
		return eris.Wrap(ErrCorrupt, err.Error())
	}
	if math.IsNaN(d.Score) || d.Score < 0 || d.Score > 100 {
		return eris.Wrapf(ErrCorrupt, "score %v out of range for %s", d.Score, d.Key())
	}
	if d.UpdatedAt.IsZero() || d.UpdatedAt.Before(d.CreatedAt) {
		return eris.Wrapf(ErrCorrupt, "bad timestamps for %s", d.Key())
	}
	return nil
}

// nextStamp returns the UpdatedAt for a write at now over a stored decision.
// Timestamps are kept at microsecond precision to match the SQL backends.
func nextStamp(now time.Time, prev *model.Decision) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if prev != nil && !now.After(prev.UpdatedAt) {
		return prev.UpdatedAt.Add(time.Microsecond)
	}
	return now
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
