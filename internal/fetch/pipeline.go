package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/marrow-labs/quotawatch/internal/classify"
	"github.com/marrow-labs/quotawatch/internal/gate"
	"github.com/marrow-labs/quotawatch/internal/models"
)

// ExecutePipeline runs a provider's ordered strategies, honoring the
// failure gate, per-attempt timeout, and cache-fallback rules.
func ExecutePipeline(ctx context.Context, providerID string, strategies []Strategy, useCache bool, cfg PipelineConfig) FetchOutcome {
	g := gate.Default().Get(providerID)

	if g.IsGated() {
		remaining, _ := g.Remaining()
		outcome := FetchOutcome{
			ProviderID:    providerID,
			Gated:         true,
			GateRemaining: remaining,
		}
		if useCache && cfg.Cache != nil {
			if cached := cfg.Cache.Load(providerID); cached != nil {
				outcome.Success = true
				outcome.Cached = true
				outcome.Source = "cache"
				outcome.Snapshot = cached
				return outcome
			}
		}
		outcome.Error = fmt.Sprintf("provider gated for %s", remaining.Round(time.Second))
		return outcome
	}

	var attempts []FetchAttempt
	var lastCategory classify.Category

	for _, strategy := range strategies {
		name := StrategyName(strategy)

		if !strategy.IsAvailable() {
			attempts = append(attempts, FetchAttempt{Strategy: name, Error: "not configured"})
			continue
		}

		if refresher, ok := strategy.(Refresher); ok {
			_ = refresher.Refresh(ctx)
		}

		start := time.Now()
		result, fetchErr := runWithTimeout(ctx, strategy, cfg.Timeout)

		if ctx.Err() != nil {
			return FetchOutcome{
				ProviderID: providerID,
				Attempts:   attempts,
				Error:      "cancelled",
			}
		}

		durationMs := int(time.Since(start).Milliseconds())

		if fetchErr != nil {
			classified := classify.ClassifyError(fetchErr)
			lastCategory = classified.Category
			attempts = append(attempts, FetchAttempt{Strategy: name, Error: fetchErr.Error(), DurationMs: durationMs})
			if !classified.FallbackOK {
				g.RecordFailure(string(classified.Category), fetchErr.Error())
				persistGate(providerID)
				return FetchOutcome{
					ProviderID: providerID,
					Attempts:   attempts,
					Error:      fetchErr.Error(),
					Fatal:      true,
				}
			}
			continue
		}

		if result.Success && result.Snapshot != nil {
			if err := models.ValidateSnapshot(*result.Snapshot); err != nil {
				attempts = append(attempts, FetchAttempt{Strategy: name, Error: err.Error(), DurationMs: durationMs})
				continue
			}

			g.RecordSuccess()
			persistGate(providerID)
			attempts = append(attempts, FetchAttempt{Strategy: name, Success: true, DurationMs: durationMs})

			if cfg.Cache != nil {
				_ = cfg.Cache.Save(*result.Snapshot)
			}

			return FetchOutcome{
				ProviderID: providerID,
				Success:    true,
				Snapshot:   result.Snapshot,
				Source:     name,
				Attempts:   attempts,
			}
		}

		attempts = append(attempts, FetchAttempt{Strategy: name, Error: result.Error, DurationMs: durationMs})

		if !result.ShouldFallback {
			g.RecordFailure("provider", result.Error)
			persistGate(providerID)
			return FetchOutcome{
				ProviderID: providerID,
				Attempts:   attempts,
				Error:      result.Error,
				Fatal:      result.Fatal,
			}
		}
	}

	anyAttempted := false
	for _, a := range attempts {
		if a.Error != "not configured" {
			anyAttempted = true
			break
		}
	}

	if anyAttempted {
		category := string(lastCategory)
		if category == "" {
			category = "provider"
		}
		g.RecordFailure(category, lastAttemptError(attempts))
		persistGate(providerID)
	}

	if useCache && cfg.Cache != nil {
		if cached := cfg.Cache.Load(providerID); cached != nil {
			if anyAttempted {
				return FetchOutcome{
					ProviderID: providerID,
					Success:    true,
					Snapshot:   cached,
					Source:     "cache",
					Attempts:   attempts,
					Cached:     true,
				}
			}
			staleThreshold := cfg.StaleThresholdMinutes
			if staleThreshold <= 0 {
				staleThreshold = 60
			}
			ageMinutes := int(time.Since(cached.FetchedAt).Minutes())
			if ageMinutes < staleThreshold {
				return FetchOutcome{
					ProviderID: providerID,
					Success:    true,
					Snapshot:   cached,
					Source:     "cache",
					Attempts:   attempts,
					Cached:     true,
				}
			}
		}
	}

	lastErr := "no strategies available"
	if len(attempts) > 0 {
		lastErr = lastAttemptError(attempts)
	}

	return FetchOutcome{
		ProviderID: providerID,
		Attempts:   attempts,
		Error:      lastErr,
	}
}

func lastAttemptError(attempts []FetchAttempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Error != "" {
			return attempts[i].Error
		}
	}
	return "unknown error"
}

func persistGate(providerID string) {
	_ = gate.Default().Persist(providerID)
}

type fetchAttemptResult struct {
	result FetchResult
	err    error
}

// runWithTimeout runs a strategy's Fetch with a per-attempt timeout,
// returning promptly on context cancellation.
func runWithTimeout(ctx context.Context, strategy Strategy, timeout time.Duration) (FetchResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	resultCh := make(chan fetchAttemptResult, 1)
	go func() {
		result, err := strategy.Fetch(ctx)
		resultCh <- fetchAttemptResult{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return FetchResult{}, nil
	case <-time.After(timeout):
		return FetchResult{}, fmt.Errorf("fetch timed out after %s", timeout)
	case r := <-resultCh:
		return r.result, r.err
	}
}
