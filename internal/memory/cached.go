package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/model"
)

const nameStripes = 64

// Cached is a write-through Store: writes commit to the backend first and are
// then applied to an in-memory index that serves all reads. Every write holds
// the stripe of its extracted name across both steps, so deletes and imports
// never interleave with an upsert of the same name.
type Cached struct {
	backend Store
	index   *MemStore
	stripes [nameStripes]sync.Mutex
}

// NewCached loads every decision from backend into memory.
func NewCached(ctx context.Context, backend Store) (*Cached, error) {
	snap, err := backend.Export(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "memory: load index")
	}
	c := &Cached{backend: backend, index: NewMemStore()}
	for _, d := range snap.Decisions {
		c.index.put(d)
	}
	zap.L().Debug("memory: index loaded", zap.Int("decisions", len(snap.Decisions)))
	return c, nil
}

func stripeOf(extractedKey string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(extractedKey))
	return int(h.Sum32() % nameStripes)
}

func (c *Cached) lockName(extractedKey string) func() {
	mu := &c.stripes[stripeOf(extractedKey)]
	mu.Lock()
	return mu.Unlock
}

// lockNames takes the stripes of every key in ascending stripe order.
func (c *Cached) lockNames(keys []string) func() {
	seen := make(map[int]bool)
	var idx []int
	for _, k := range keys {
		if i := stripeOf(k); !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		c.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			c.stripes[idx[j]].Unlock()
		}
	}
}

func (c *Cached) Lookup(ctx context.Context, extractedKey, rosterKey string) (*model.Decision, error) {
	return c.index.Lookup(ctx, extractedKey, rosterKey)
}

func (c *Cached) LookupAll(ctx context.Context, extractedKey string) ([]model.Decision, error) {
	return c.index.LookupAll(ctx, extractedKey)
}

func (c *Cached) StoreOrUpdate(ctx context.Context, extractedKey, rosterKey string, confirmed bool, score float64, prov model.Provenance) (*model.Decision, error) {
	defer c.lockName(extractedKey)()

	d, err := c.backend.StoreOrUpdate(ctx, extractedKey, rosterKey, confirmed, score, prov)
	if err != nil {
		return nil, err
	}
	c.index.put(*d)
	return d, nil
}

func (c *Cached) Delete(ctx context.Context, extractedKey string) (int, error) {
	defer c.lockName(extractedKey)()

	n, err := c.backend.Delete(ctx, extractedKey)
	if err != nil {
		return 0, err
	}
	_, _ = c.index.Delete(ctx, extractedKey)
	return n, nil
}

func (c *Cached) DeletePair(ctx context.Context, extractedKey, rosterKey string) (bool, error) {
	defer c.lockName(extractedKey)()

	ok, err := c.backend.DeletePair(ctx, extractedKey, rosterKey)
	if err != nil {
		return false, err
	}
	_, _ = c.index.DeletePair(ctx, extractedKey, rosterKey)
	return ok, nil
}

func (c *Cached) Export(ctx context.Context) (*Snapshot, error) {
	return c.index.Export(ctx)
}

// Import applies the snapshot to the backend and then to the index. Both use
// the same merge rule, so the index ends up with the backend's values.
func (c *Cached) Import(ctx context.Context, snap *Snapshot) (int, error) {
	if err := snap.Validate(); err != nil {
		return 0, err
	}
	keys := make([]string, len(snap.Decisions))
	for i, d := range snap.Decisions {
		keys[i] = d.ExtractedKey
	}
	defer c.lockNames(keys)()

	n, err := c.backend.Import(ctx, snap)
	if err != nil {
		return 0, err
	}
	if _, err := c.index.Import(ctx, snap); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Cached) Stats(ctx context.Context) (Stats, error) {
	return c.index.Stats(ctx)
}

func (c *Cached) Close() error {
	return c.backend.Close()
}

var _ Store = (*Cached)(nil)
