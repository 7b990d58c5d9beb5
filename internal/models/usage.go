package models

import "time"

// UsageEntry is an immutable consumption fact recorded after a unit of work.
// Entries are never mutated or deleted once appended.
type UsageEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	Provider      Provider  `json:"provider"`
	InputTokens   int64     `json:"inputTokens"`
	OutputTokens  int64     `json:"outputTokens"`
	EstimatedCost float64   `json:"estimatedCost"`
}

// UsageTotals is the aggregate of ledger entries over a window.
// Tokens counts input plus output.
type UsageTotals struct {
	CostUSD float64 `json:"costUsd"`
	Tokens  int64   `json:"tokens"`
}

// ClassifiedFailure is a structured provider failure report. Classification
// of raw errors is the caller's responsibility; the router trusts it.
type ClassifiedFailure struct {
	RetryAfterSeconds *int   `json:"retryAfterSeconds,omitempty"`
	Code              string `json:"code"`
	QuotaExhausted    bool   `json:"quotaExhausted,omitempty"`
	RateLimited       bool   `json:"rateLimited,omitempty"`
}

// Availability describes whether a provider pool has any eligible account.
// AllExhausted is a normal, expected condition, never an error.
type Availability struct {
	Reason    string `json:"reason,omitempty"`
	Available bool   `json:"available"`
}
