package resolve

import (
	"strings"

	"github.com/sells-group/dnm-router/internal/model"
)

// Roster is an immutable, normalized do-not-mail list.
type Roster struct {
	entries []model.RosterEntry
	exact   map[string]int // normalized name -> first entry index
}

// NewRoster normalizes names in ingestion order. Blank names are skipped;
// duplicates are kept and collapse on the exact index.
func NewRoster(names []string) *Roster {
	r := &Roster{
		entries: make([]model.RosterEntry, 0, len(names)),
		exact:   make(map[string]int, len(names)),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		e := model.RosterEntry{
			Name:           name,
			NormalizedName: NormalizeName(name),
			Index:          len(r.entries),
		}
		r.entries = append(r.entries, e)
		if e.NormalizedName == "" {
			continue
		}
		if _, ok := r.exact[e.NormalizedName]; !ok {
			r.exact[e.NormalizedName] = e.Index
		}
	}
	return r
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns the roster in ingestion order. Callers must not modify it.
func (r *Roster) Entries() []model.RosterEntry {
	if r == nil {
		return nil
	}
	return r.entries
}

// Names returns the original roster names.
func (r *Roster) Names() []string {
	names := make([]string, 0, r.Len())
	for _, e := range r.Entries() {
		names = append(names, e.Name)
	}
	return names
}

// Exact returns the roster entry whose normalized form equals normalized.
func (r *Roster) Exact(normalized string) (model.RosterEntry, bool) {
	if r == nil || normalized == "" {
		return model.RosterEntry{}, false
	}
	idx, ok := r.exact[normalized]
	if !ok {
		return model.RosterEntry{}, false
	}
	return r.entries[idx], true
}
