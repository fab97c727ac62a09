package fetch

// Aggregation partitions a batch of FetchOutcomes into four disjoint
// buckets for the renderer: a fresh success, a stale-but-served cache
// hit, a gate short-circuit, or an outright failure with no usable data.
type Aggregation struct {
	Success map[string]FetchOutcome
	Cached  map[string]FetchOutcome
	Gated   map[string]FetchOutcome
	Failure map[string]FetchOutcome
}

// Aggregate partitions outcomes by provider into the four buckets.
// Gated outcomes that still carry served (possibly cached) data are
// classified as gated, not success/cached, since the renderer needs to
// know the provider is currently short-circuited regardless of whether
// it happened to have something to show.
func Aggregate(outcomes map[string]FetchOutcome) Aggregation {
	agg := Aggregation{
		Success: make(map[string]FetchOutcome),
		Cached:  make(map[string]FetchOutcome),
		Gated:   make(map[string]FetchOutcome),
		Failure: make(map[string]FetchOutcome),
	}

	for pid, o := range outcomes {
		switch {
		case o.Gated:
			agg.Gated[pid] = o
		case o.Success && o.Cached:
			agg.Cached[pid] = o
		case o.Success:
			agg.Success[pid] = o
		default:
			agg.Failure[pid] = o
		}
	}

	return agg
}

// HasAnyData reports whether at least one provider produced a snapshot,
// fresh or cached.
func (a Aggregation) HasAnyData() bool {
	return len(a.Success) > 0 || len(a.Cached) > 0
}

// AllFailed reports whether every provider ended in the failure bucket.
func (a Aggregation) AllFailed() bool {
	return len(a.Success) == 0 && len(a.Cached) == 0 && len(a.Gated) == 0 && len(a.Failure) > 0
}

// SuccessfulProviders returns the ids of providers with fresh or cached
// data, in no particular order.
func (a Aggregation) SuccessfulProviders() []string {
	ids := make([]string, 0, len(a.Success)+len(a.Cached))
	for pid := range a.Success {
		ids = append(ids, pid)
	}
	for pid := range a.Cached {
		ids = append(ids, pid)
	}
	return ids
}

// FailedProviders returns the ids of providers with no usable data.
func (a Aggregation) FailedProviders() []string {
	ids := make([]string, 0, len(a.Failure))
	for pid := range a.Failure {
		ids = append(ids, pid)
	}
	return ids
}
