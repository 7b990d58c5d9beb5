package models

import "time"

// Account represents one credentialed profile slot bound to a provider.
// This is the unified account type used throughout the application.
type Account struct {
	AddedAt    time.Time   `json:"addedAt"`
	ID         string      `json:"id"`
	Provider   Provider    `json:"provider"`
	Label      string      `json:"label,omitempty"`
	ProfileDir string      `json:"profileDir,omitempty"`
	Priority   int         `json:"priority,omitempty"`
	Enabled    bool        `json:"enabled"`
	Health     Health      `json:"health,omitempty"`
	Quota      QuotaPolicy `json:"quota,omitempty"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() Account {
	clone := *a
	if a.Health.CooldownUntil != nil {
		t := *a.Health.CooldownUntil
		clone.Health.CooldownUntil = &t
	}
	clone.Quota = a.Quota.clone()
	return clone
}

// Health carries the mutable runtime state of an account. It is written
// only by the router in response to usage and error reports.
type Health struct {
	CooldownUntil       *time.Time `json:"cooldownUntil,omitempty"`
	LastErrorCode       string     `json:"lastErrorCode,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures,omitempty"`
	ExhaustedLocally    bool       `json:"exhaustedLocally,omitempty"`
}

// HealthState is the account health state machine: Active is the default,
// Cooldown is time-bounded and expires on its own, Exhausted is sticky and
// clears only through a successful usage report that passes the quota check.
type HealthState int

const (
	HealthActive HealthState = iota
	HealthCooldown
	HealthExhausted
)

func (s HealthState) String() string {
	switch s {
	case HealthCooldown:
		return "cooldown"
	case HealthExhausted:
		return "exhausted"
	default:
		return "active"
	}
}

// State resolves the health state at the given instant. Exhaustion takes
// precedence over an unexpired cooldown; an expired cooldown is Active
// without any explicit transition event.
func (h Health) State(now time.Time) HealthState {
	if h.ExhaustedLocally {
		return HealthExhausted
	}
	if h.CooldownUntil != nil && h.CooldownUntil.After(now) {
		return HealthCooldown
	}
	return HealthActive
}

// QuotaPolicy holds optional consumption ceilings per calendar window.
// A nil limit means unlimited for that window.
type QuotaPolicy struct {
	DailyCostUSD   *float64 `json:"dailyCostUsd,omitempty"`
	WeeklyCostUSD  *float64 `json:"weeklyCostUsd,omitempty"`
	MonthlyCostUSD *float64 `json:"monthlyCostUsd,omitempty"`
	DailyTokens    *int64   `json:"dailyTokens,omitempty"`
	WeeklyTokens   *int64   `json:"weeklyTokens,omitempty"`
	MonthlyTokens  *int64   `json:"monthlyTokens,omitempty"`
}

// CostLimit returns the configured cost ceiling for the window, or nil.
func (q QuotaPolicy) CostLimit(w Window) *float64 {
	switch w {
	case WindowDay:
		return q.DailyCostUSD
	case WindowWeek:
		return q.WeeklyCostUSD
	case WindowMonth:
		return q.MonthlyCostUSD
	}
	return nil
}

// TokenLimit returns the configured token ceiling for the window, or nil.
func (q QuotaPolicy) TokenLimit(w Window) *int64 {
	switch w {
	case WindowDay:
		return q.DailyTokens
	case WindowWeek:
		return q.WeeklyTokens
	case WindowMonth:
		return q.MonthlyTokens
	}
	return nil
}

func (q QuotaPolicy) clone() QuotaPolicy {
	c := q
	if q.DailyCostUSD != nil {
		v := *q.DailyCostUSD
		c.DailyCostUSD = &v
	}
	if q.WeeklyCostUSD != nil {
		v := *q.WeeklyCostUSD
		c.WeeklyCostUSD = &v
	}
	if q.MonthlyCostUSD != nil {
		v := *q.MonthlyCostUSD
		c.MonthlyCostUSD = &v
	}
	if q.DailyTokens != nil {
		v := *q.DailyTokens
		c.DailyTokens = &v
	}
	if q.WeeklyTokens != nil {
		v := *q.WeeklyTokens
		c.WeeklyTokens = &v
	}
	if q.MonthlyTokens != nil {
		v := *q.MonthlyTokens
		c.MonthlyTokens = &v
	}
	return c
}
