package services

import (
	"viewmux/internal/core/domain"
)

// Limits separates the two admission budgets: how many sessions may be
// live at once, and how many may be initializing at once. Start-up is
// CPU-bound (decoder init, manifest parse) while steady playback is
// comparatively cheap, so the init budget is the stricter of the two.
type Limits struct {
	LiveSessions    int
	InitConcurrency int
}

// LimitOverrides replaces tier-derived limits per field; zero keeps the
// derived value.
type LimitOverrides struct {
	LiveSessions    int
	InitConcurrency int
}

// LimitsFor derives both budgets from a tier.
func LimitsFor(tier domain.Tier) Limits {
	init := 2
	if tier == domain.TierLow {
		init = 1
	}
	return Limits{
		LiveSessions:    MaxConcurrentStreams(tier),
		InitConcurrency: init,
	}
}

// Apply returns the limits with any non-zero overrides substituted.
func (l Limits) Apply(o LimitOverrides) Limits {
	if o.LiveSessions > 0 {
		l.LiveSessions = o.LiveSessions
	}
	if o.InitConcurrency > 0 {
		l.InitConcurrency = o.InitConcurrency
	}
	return l
}
