package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/marrow-labs/quotawatch/internal/gate"
	"github.com/marrow-labs/quotawatch/internal/models"
)

// mockStrategy is a Strategy test double. name only affects IsAvailable's
// identity in test failure messages — StrategyName always derives from
// the concrete type, not this field, so most tests don't need to set it.
type mockStrategy struct {
	name      string
	available bool
	fetchFn   func(ctx context.Context) (FetchResult, error)
}

func (m *mockStrategy) IsAvailable() bool { return m.available }

func (m *mockStrategy) Fetch(ctx context.Context) (FetchResult, error) {
	if m.fetchFn == nil {
		return FetchResult{}, nil
	}
	return m.fetchFn(ctx)
}

// refreshingMockStrategy is a mockStrategy that also satisfies Refresher,
// recording whether ExecutePipeline called Refresh ahead of Fetch.
type refreshingMockStrategy struct {
	mockStrategy
	refreshed bool
	refreshFn func(ctx context.Context) error
}

func (m *refreshingMockStrategy) Refresh(ctx context.Context) error {
	m.refreshed = true
	if m.refreshFn == nil {
		return nil
	}
	return m.refreshFn(ctx)
}

// memCache is a thread-safe in-memory Cache test double.
type memCache struct {
	mu   sync.Mutex
	data map[string]models.UsageSnapshot
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string]models.UsageSnapshot)}
}

func (c *memCache) Save(snap models.UsageSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[snap.Provider] = snap
	return nil
}

func (c *memCache) Load(providerID string) *models.UsageSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.data[providerID]
	if !ok {
		return nil
	}
	return &s
}

// memGateStore is an in-memory gate.Store test double.
type memGateStore struct {
	mu   sync.Mutex
	data map[string]gate.State
}

func newMemGateStore() *memGateStore {
	return &memGateStore{data: make(map[string]gate.State)}
}

func (s *memGateStore) Load(providerID string) (gate.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[providerID]
	return st, ok
}

func (s *memGateStore) Save(providerID string, state gate.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[providerID] = state
	return nil
}

func defaultTestPipelineCfg() PipelineConfig {
	return pipelineCfgWithCache(newMemCache())
}

func pipelineCfgWithCache(c Cache) PipelineConfig {
	return PipelineConfig{
		Timeout:               30 * time.Second,
		StaleThresholdMinutes: 60,
		Cache:                 c,
	}
}

func testSnapshot(provider, source string, utilization int) models.UsageSnapshot {
	return models.UsageSnapshot{
		Provider:  provider,
		Source:    source,
		FetchedAt: time.Now().UTC(),
		Periods:   []models.UsagePeriod{{Name: "session", PeriodType: models.PeriodSession, Utilization: utilization}},
	}
}
