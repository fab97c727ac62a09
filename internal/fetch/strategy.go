package fetch

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/marrow-labs/quotawatch/internal/models"
)

// Cache abstracts snapshot persistence so ExecutePipeline doesn't depend
// on the filesystem or config package directly.
type Cache interface {
	Save(snapshot models.UsageSnapshot) error
	Load(providerID string) *models.UsageSnapshot
}

// PipelineConfig holds the parameters ExecutePipeline needs, replacing a
// hidden dependency on config.Get().
type PipelineConfig struct {
	Timeout               time.Duration
	StaleThresholdMinutes int
	Cache                 Cache
}

// OrchestratorConfig holds parameters for FetchAllProviders and
// FetchEnabledProviders.
type OrchestratorConfig struct {
	MaxConcurrent int
	Pipeline      PipelineConfig
}

// FetchResult represents the outcome of a single strategy attempt.
type FetchResult struct {
	Success        bool
	Snapshot       *models.UsageSnapshot
	Error          string
	ShouldFallback bool
	Fatal          bool
}

// ResultOK reports a successful fetch.
func ResultOK(snapshot models.UsageSnapshot) FetchResult {
	return FetchResult{Success: true, Snapshot: &snapshot, ShouldFallback: false}
}

// ResultFail reports a recoverable failure; the pipeline tries the next
// strategy in the chain.
func ResultFail(err string) FetchResult {
	return FetchResult{Success: false, Error: err, ShouldFallback: true}
}

// ResultFatal reports a failure that should not fall through to the next
// strategy (e.g. a provider-side outage rather than a missing credential).
func ResultFatal(err string) FetchResult {
	return FetchResult{Success: false, Error: err, ShouldFallback: false, Fatal: true}
}

// FetchAttempt records one strategy's contribution to a pipeline run, for
// diagnostics (`quotawatch status --verbose`, C9's attempt log).
type FetchAttempt struct {
	Strategy   string `json:"strategy"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int    `json:"duration_ms"`
}

// FetchOutcome is the complete result of fetching from a provider.
type FetchOutcome struct {
	ProviderID    string                `json:"provider_id"`
	Success       bool                  `json:"success"`
	Snapshot      *models.UsageSnapshot `json:"snapshot,omitempty"`
	Source        string                `json:"source,omitempty"`
	Error         string                `json:"error,omitempty"`
	Cached        bool                  `json:"cached"`
	Attempts      []FetchAttempt        `json:"attempts,omitempty"`
	Gated         bool                  `json:"gated,omitempty"`
	GateRemaining time.Duration         `json:"-"`
	Fatal         bool                  `json:"fatal,omitempty"`
}

// Strategy is the interface all fetch strategies must implement.
type Strategy interface {
	IsAvailable() bool
	Fetch(ctx context.Context) (FetchResult, error)
}

// Refresher is an optional strategy capability: a strategy that can
// proactively refresh its own credentials (e.g. an OAuth token) ahead of
// a fetch attempt, rather than waiting for the provider to reject a
// stale one.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StrategyName returns a short identifier for a strategy derived from its
// type name (e.g. *claude.OAuthStrategy → "oauth"). Strategies aren't
// required to implement a Name method — deriving it via reflection keeps
// the Strategy interface minimal across every provider package.
func StrategyName(s Strategy) string {
	t := reflect.TypeOf(s)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	name = strings.TrimSuffix(name, "Strategy")
	if name == "" {
		return fmt.Sprintf("%T", s)
	}
	return strings.ToLower(name)
}
