package models

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every violation found while validating a
// UsageSnapshot, rather than stopping at the first one. The pipeline
// treats any non-nil ValidationError as a fallback-eligible failure.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid snapshot: " + strings.Join(e.Violations, "; ")
}

// ValidateSnapshot checks a UsageSnapshot against the invariants in
// spec §3: a non-empty period list, every utilization in [0,100], and
// timezone-aware timestamps (time.Time is always zone-aware in Go once
// parsed via RFC3339, so this only rejects the zero value).
func ValidateSnapshot(s UsageSnapshot) error {
	var violations []string

	if s.Provider == "" {
		violations = append(violations, "provider id is empty")
	}
	if s.FetchedAt.IsZero() {
		violations = append(violations, "fetched_at is not set")
	}
	if len(s.Periods) == 0 {
		violations = append(violations, "periods is empty")
	}
	for i, p := range s.Periods {
		if v := validatePeriod(p); v != "" {
			violations = append(violations, fmt.Sprintf("periods[%d]: %s", i, v))
		}
		if p.Model != "" && !hasGeneralPeriod(s.Periods, p.PeriodType) {
			violations = append(violations, fmt.Sprintf("periods[%d]: model breakdown %q has no general period of type %q", i, p.Model, p.PeriodType))
		}
	}
	if s.Overage != nil {
		if s.Overage.Limit < 0 {
			violations = append(violations, "overage limit is negative")
		}
		if s.Overage.Used < 0 {
			violations = append(violations, "overage used is negative")
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func validatePeriod(p UsagePeriod) string {
	if p.Utilization < 0 || p.Utilization > 100 {
		return fmt.Sprintf("utilization %d out of range [0,100]", p.Utilization)
	}
	switch p.PeriodType {
	case PeriodSession, PeriodDaily, PeriodWeekly, PeriodMonthly:
	default:
		return fmt.Sprintf("unknown period type %q", p.PeriodType)
	}
	return ""
}

// hasGeneralPeriod reports whether periods contains a non-model-specific
// entry of the given period type — the general period a model-specific
// breakdown is required to accompany.
func hasGeneralPeriod(periods []UsagePeriod, pt PeriodType) bool {
	for _, p := range periods {
		if p.PeriodType == pt && p.Model == "" {
			return true
		}
	}
	return false
}
