package fetch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FetchAllProviders fetches usage from all providers concurrently, bounded
// by cfg.MaxConcurrent. When useCache is true, stale cached data is used
// as a fallback if all strategies fail.
func FetchAllProviders(ctx context.Context, providerMap map[string][]Strategy, useCache bool, cfg OrchestratorConfig, onComplete func(FetchOutcome)) map[string]FetchOutcome {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	outcomes := make(map[string]FetchOutcome, len(providerMap))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for pid, strategies := range providerMap {
		providerID, strats := pid, strategies
		g.Go(func() error {
			outcome := ExecutePipeline(gctx, providerID, strats, useCache, cfg.Pipeline)
			if gctx.Err() != nil && outcome.Error == "" {
				outcome.Error = "cancelled"
			}

			mu.Lock()
			outcomes[providerID] = outcome
			mu.Unlock()

			safeOnComplete(onComplete, outcome)
			return nil
		})
	}

	// errgroup.WithContext cancels gctx on the first returned error, but
	// every pipeline here returns nil — ExecutePipeline itself absorbs
	// failures into FetchOutcome rather than propagating an error, so
	// one provider's trouble never cancels the others.
	_ = g.Wait()
	return outcomes
}

// FetchEnabledProviders fetches only providers for which isEnabled
// returns true.
func FetchEnabledProviders(ctx context.Context, providerMap map[string][]Strategy, useCache bool, cfg OrchestratorConfig, isEnabled func(string) bool, onComplete func(FetchOutcome)) map[string]FetchOutcome {
	enabledMap := make(map[string][]Strategy, len(providerMap))
	for pid, strategies := range providerMap {
		if isEnabled(pid) {
			enabledMap[pid] = strategies
		}
	}
	return FetchAllProviders(ctx, enabledMap, useCache, cfg, onComplete)
}

// FetchSingleProvider runs the pipeline for exactly one provider, outside
// the bounded worker pool (the caller already knows it wants only this
// one fetch, so there's no concurrency to bound).
func FetchSingleProvider(ctx context.Context, providerID string, strategies []Strategy, useCache bool, cfg PipelineConfig, onComplete func(FetchOutcome)) FetchOutcome {
	outcome := ExecutePipeline(ctx, providerID, strategies, useCache, cfg)
	safeOnComplete(onComplete, outcome)
	return outcome
}

// safeOnComplete invokes the progress callback, catching and discarding any
// panic it raises. The callback drives live spinner/UI updates for one
// provider among many running concurrently — it must never be allowed to
// take down the rest of the batch.
func safeOnComplete(onComplete func(FetchOutcome), outcome FetchOutcome) {
	if onComplete == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	onComplete(outcome)
}
