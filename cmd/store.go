package main

import (
	"context"

	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/pipeline"
	"github.com/sells-group/dnm-router/internal/review"
)

func initStore(ctx context.Context) (memory.Store, error) {
	return memory.Open(ctx, cfg.Store)
}

// newPipeline wires a pipeline over store from the loaded config.
func newPipeline(store memory.Store) *pipeline.Pipeline {
	mgr := review.NewManager(store, review.Options{AutoDNMThreshold: cfg.Match.AutoDNMThreshold})
	return pipeline.New(pipeline.Config{
		Extract:   cfg.Extract,
		Route:     cfg.Route,
		Threshold: cfg.Match.Threshold,
		Workers:   cfg.Pipeline.Workers,
	}, mgr)
}
