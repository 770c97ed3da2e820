package extract

import (
	"sort"
	"sync"

	"github.com/sells-group/dnm-router/internal/model"
)

// Log collects extraction diagnostics. It carries no matching semantics.
type Log struct {
	mu      sync.Mutex
	entries []model.ExtractionLogEntry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append records an entry. No-op on a nil log.
func (l *Log) Append(e model.ExtractionLogEntry) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of the entries ordered by page index.
func (l *Log) Entries() []model.ExtractionLogEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	out := make([]model.ExtractionLogEntry, len(l.entries))
	copy(out, l.entries)
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out
}

// LogSummary aggregates the log for reporting.
type LogSummary struct {
	Total         int                            `json:"total"`
	Disagreements int                            `json:"disagreements"`
	Fallbacks     int                            `json:"fallbacks"`
	ByMethod      map[model.ExtractionMethod]int `json:"by_method"`
}

// Summary counts entries per method and disagreements with the first line.
func (l *Log) Summary() LogSummary {
	s := LogSummary{ByMethod: make(map[model.ExtractionMethod]int)}
	for _, e := range l.Entries() {
		s.Total++
		s.ByMethod[e.Method]++
		if !e.Match {
			s.Disagreements++
		}
		if e.FallbackUsed {
			s.Fallbacks++
		}
	}
	return s
}
