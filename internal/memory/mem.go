package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sells-group/dnm-router/internal/model"
)

const memShards = 32

type shard struct {
	mu sync.RWMutex
	// extracted key -> roster key -> decision
	m map[string]map[string]model.Decision
}

// MemStore is an in-process Store sharded by extracted key. Readers never
// block each other and writers only contend within a shard.
type MemStore struct {
	shards  [memShards]*shard
	nowFunc func() time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	s := &MemStore{nowFunc: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[string]map[string]model.Decision)}
	}
	return s
}

func (s *MemStore) shardFor(extractedKey string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(extractedKey))
	return s.shards[h.Sum32()%memShards]
}

func (s *MemStore) Lookup(_ context.Context, extractedKey, rosterKey string) (*model.Decision, error) {
	sh := s.shardFor(extractedKey)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	d, ok := sh.m[extractedKey][rosterKey]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *MemStore) LookupAll(_ context.Context, extractedKey string) ([]model.Decision, error) {
	sh := s.shardFor(extractedKey)
	sh.mu.RLock()
	out := make([]model.Decision, 0, len(sh.m[extractedKey]))
	for _, d := range sh.m[extractedKey] {
		out = append(out, d)
	}
	sh.mu.RUnlock()
	sortDecisions(out)
	return out, nil
}

func (s *MemStore) StoreOrUpdate(_ context.Context, extractedKey, rosterKey string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	if err := checkKeys(extractedKey, rosterKey); err != nil {
		return nil, err
	}
	sh := s.shardFor(extractedKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byRoster := sh.m[extractedKey]
	if byRoster == nil {
		byRoster = make(map[string]model.Decision)
		sh.m[extractedKey] = byRoster
	}

	d, exists := byRoster[rosterKey]
	var prev *model.Decision
	if exists {
		prev = &d
	}
	stamp := nextStamp(s.nowFunc(), prev)
	if !exists {
		d = model.Decision{ExtractedKey: extractedKey, RosterKey: rosterKey, CreatedAt: stamp}
	}
	d.Confirmed = confirmed
	d.Score = round1(score)
	d.UpdatedAt = stamp
	d.Provenance = d.Provenance.Merge(prov)
	byRoster[rosterKey] = d
	return &d, nil
}

func (s *MemStore) Delete(_ context.Context, extractedKey string) (int, error) {
	sh := s.shardFor(extractedKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n := len(sh.m[extractedKey])
	delete(sh.m, extractedKey)
	return n, nil
}

func (s *MemStore) DeletePair(_ context.Context, extractedKey, rosterKey string) (bool, error) {
	sh := s.shardFor(extractedKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	byRoster := sh.m[extractedKey]
	if _, ok := byRoster[rosterKey]; !ok {
		return false, nil
	}
	delete(byRoster, rosterKey)
	if len(byRoster) == 0 {
		delete(sh.m, extractedKey)
	}
	return true, nil
}

func (s *MemStore) Export(_ context.Context) (*Snapshot, error) {
	return NewSnapshot(s.all(), s.nowFunc()), nil
}

func (s *MemStore) all() []model.Decision {
	var out []model.Decision
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, byRoster := range sh.m {
			for _, d := range byRoster {
				out = append(out, d)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

func (s *MemStore) Import(_ context.Context, snap *Snapshot) (int, error) {
	if err := snap.Validate(); err != nil {
		return 0, err
	}
	for _, d := range snap.Decisions {
		s.merge(d)
	}
	return len(snap.Decisions), nil
}

// put writes d verbatim.
func (s *MemStore) put(d model.Decision) {
	sh := s.shardFor(d.ExtractedKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byRoster := sh.m[d.ExtractedKey]
	if byRoster == nil {
		byRoster = make(map[string]model.Decision)
		sh.m[d.ExtractedKey] = byRoster
	}
	byRoster[d.RosterKey] = d
}

// merge applies an imported decision with the StoreOrUpdate rule: a new pair
// keeps the snapshot's timestamps, an existing pair keeps its CreatedAt, takes
// the imported decision and score and gets an UpdatedAt past the stored one.
func (s *MemStore) merge(d model.Decision) {
	sh := s.shardFor(d.ExtractedKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byRoster := sh.m[d.ExtractedKey]
	if byRoster == nil {
		byRoster = make(map[string]model.Decision)
		sh.m[d.ExtractedKey] = byRoster
	}
	d.Score = round1(d.Score)
	d.CreatedAt = d.CreatedAt.UTC().Truncate(time.Microsecond)
	d.UpdatedAt = d.UpdatedAt.UTC().Truncate(time.Microsecond)
	if cur, ok := byRoster[d.RosterKey]; ok {
		d.CreatedAt = cur.CreatedAt
		if floor := cur.UpdatedAt.Add(time.Microsecond); d.UpdatedAt.Before(floor) {
			d.UpdatedAt = floor
		}
		d.Provenance = cur.Provenance.Merge(d.Provenance)
	}
	byRoster[d.RosterKey] = d
}

func (s *MemStore) Stats(_ context.Context) (Stats, error) {
	return computeStats(s.all()), nil
}

func (s *MemStore) Close() error { return nil }

func computeStats(ds []model.Decision) Stats {
	var st Stats
	names := make(map[string]struct{})
	var sum float64
	for _, d := range ds {
		names[d.ExtractedKey] = struct{}{}
		st.TotalDecisions++
		if d.Confirmed {
			st.ConfirmedCount++
		} else {
			st.RejectedCount++
		}
		sum += d.Score
	}
	st.UniqueNames = len(names)
	if st.TotalDecisions > 0 {
		st.AvgScore = round1(sum / float64(st.TotalDecisions))
	}
	return st
}

var _ Store = (*MemStore)(nil)
