package memory

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dnm-router/internal/model"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is a portable dump of the decision memory.
type Snapshot struct {
	Version    int              `json:"version" yaml:"version"`
	ExportedAt time.Time        `json:"exported_at" yaml:"exported_at"`
	Decisions  []model.Decision `json:"decisions" yaml:"decisions"`
}

// NewSnapshot builds a snapshot with decisions sorted by key.
func NewSnapshot(decisions []model.Decision, now time.Time) *Snapshot {
	sortDecisions(decisions)
	return &Snapshot{Version: SnapshotVersion, ExportedAt: now.UTC(), Decisions: decisions}
}

// Validate rejects snapshots that would corrupt a store.
func (s *Snapshot) Validate() error {
	if s == nil {
		return eris.New("memory: nil snapshot")
	}
	if s.Version > SnapshotVersion {
		return eris.Errorf("memory: unsupported snapshot version %d", s.Version)
	}
	for _, d := range s.Decisions {
		if err := validate(d); err != nil {
			return err
		}
	}
	return nil
}

// Format is a snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// WriteSnapshot encodes s to w.
func WriteSnapshot(w io.Writer, s *Snapshot, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "memory: encode yaml snapshot")
		}
		return eris.Wrap(enc.Close(), "memory: encode yaml snapshot")
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(s), "memory: encode json snapshot")
	}
}

// ReadSnapshot decodes and validates a snapshot from r.
func ReadSnapshot(r io.Reader, f Format) (*Snapshot, error) {
	var s Snapshot
	var err error
	switch f {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&s)
	default:
		err = json.NewDecoder(r).Decode(&s)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "memory: decode %s snapshot", f)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func sortDecisions(ds []model.Decision) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].ExtractedKey != ds[j].ExtractedKey {
			return ds[i].ExtractedKey < ds[j].ExtractedKey
		}
		return ds[i].RosterKey < ds[j].RosterKey
	})
}
