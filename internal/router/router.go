// Package router decides which account executes each outbound unit of work.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/j-veylop/switchboard/internal/logger"
	"github.com/j-veylop/switchboard/internal/models"
	"github.com/j-veylop/switchboard/internal/probe"
)

// ErrorCodeLocalLimit is recorded when local quota tracking marks an
// account exhausted after a usage report.
const ErrorCodeLocalLimit = "local_limit_reached"

const (
	defaultRetryAfterSeconds = 120
	minRetryAfterSeconds     = 30
)

// Store is the durable account storage the router reads and writes.
// Update races are last-writer-wins; the router only writes health fields.
type Store interface {
	Accounts(provider models.Provider) []models.Account
	Update(account models.Account) error
}

// Ledger is the append-only usage log the router records into and
// aggregates from.
type Ledger interface {
	Append(entry models.UsageEntry) error
	Totals(accountID string, window models.Window) (models.UsageTotals, error)
}

// State is a read-only snapshot of per-provider transient routing state.
// It is not persisted; losing it resets round-robin fairness, never
// correctness, because eligibility is re-derived on every call.
type State struct {
	LastSwitchAt       time.Time
	ActiveAccountID    string
	LastFailoverReason string
	Cursor             int
}

// pool holds transient routing state for one provider. Its mutex serializes
// selection and health mutation within the provider; pools for different
// providers never contend with each other.
type pool struct {
	mu                 sync.Mutex
	cursor             int
	activeAccountID    string
	lastFailoverReason string
	lastSwitchAt       time.Time
}

// Router selects eligible accounts, tracks consumption, and fails over when
// an account becomes unusable mid-session.
type Router struct {
	store  Store
	ledger Ledger
	probe  probe.Detector

	poolsMu sync.Mutex
	pools   map[models.Provider]*pool

	now func() time.Time
}

// New creates a router over the given collaborators.
func New(store Store, ledger Ledger, detector probe.Detector) *Router {
	return &Router{
		store:  store,
		ledger: ledger,
		probe:  detector,
		pools:  make(map[models.Provider]*pool),
		now:    time.Now,
	}
}

// pool returns the provider's transient state, creating it lazily.
func (r *Router) pool(provider models.Provider) *pool {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()

	p, ok := r.pools[provider]
	if !ok {
		p = &pool{}
		r.pools[provider] = p
	}
	return p
}

// SelectAccount returns the next eligible account for the provider in
// round-robin order, or nil if none is eligible. The result is recorded as
// the provider's active account.
func (r *Router) SelectAccount(ctx context.Context, provider models.Provider) (*models.Account, error) {
	candidates, err := r.eligibleAccounts(ctx, provider)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	p := r.pool(provider)
	p.mu.Lock()
	idx := p.cursor % len(candidates)
	p.cursor = (idx + 1) % len(candidates)
	chosen := candidates[idx]
	p.markSelectedLocked(chosen.ID, "", r.now())
	p.mu.Unlock()

	logger.Debug("account selected",
		"provider", provider,
		"account", chosen.ID,
		"candidates", len(candidates))

	return &chosen, nil
}

// NextAvailableAccount returns the eligible account cyclically after the
// given one, for failover after a reported error. The candidate set is
// recomputed fresh; if afterID is no longer in it, the first candidate is
// returned. The result is recorded as active, carrying forward the current
// failover reason.
func (r *Router) NextAvailableAccount(ctx context.Context, afterID string, provider models.Provider) (*models.Account, error) {
	candidates, err := r.eligibleAccounts(ctx, provider)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	chosen := candidates[0]
	for i := range candidates {
		if candidates[i].ID == afterID {
			chosen = candidates[(i+1)%len(candidates)]
			break
		}
	}

	p := r.pool(provider)
	p.mu.Lock()
	p.markSelectedLocked(chosen.ID, p.lastFailoverReason, r.now())
	reason := p.lastFailoverReason
	p.mu.Unlock()

	logger.Info("failed over to next account",
		"provider", provider,
		"from", afterID,
		"to", chosen.ID,
		"reason", reason)

	return &chosen, nil
}

// MarkUsage appends a ledger entry, clears the account's failure state, and
// re-evaluates quota so an account that just crossed a limit cannot be
// selected again. This is the only path that clears cooldown and exhaustion.
func (r *Router) MarkUsage(accountID string, provider models.Provider, inputTokens, outputTokens int64, estimatedCost float64) error {
	entry := models.UsageEntry{
		Timestamp:     r.now(),
		AccountID:     accountID,
		Provider:      provider,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		EstimatedCost: estimatedCost,
	}
	if err := r.ledger.Append(entry); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	p := r.pool(provider)
	p.mu.Lock()
	defer p.mu.Unlock()

	account := r.findAccount(provider, accountID)
	if account == nil {
		return fmt.Errorf("account not found: %s", accountID)
	}

	account.Health.ConsecutiveFailures = 0
	account.Health.LastErrorCode = ""
	account.Health.CooldownUntil = nil
	account.Health.ExhaustedLocally = false

	exceeded, err := r.exceedsPolicy(*account)
	if err != nil {
		return err
	}
	if exceeded {
		account.Health.ExhaustedLocally = true
		account.Health.LastErrorCode = ErrorCodeLocalLimit
		logger.Info("account reached local limit",
			"provider", provider,
			"account", accountID)
	}

	return r.store.Update(*account)
}

// MarkProviderError records a classified failure against the account. A
// quota-exhaustion signal sets the sticky exhausted flag; a rate-limit
// signal starts a cooldown, overwriting any prior one. Failover is the
// caller's next move via NextAvailableAccount.
func (r *Router) MarkProviderError(accountID string, provider models.Provider, failure models.ClassifiedFailure) error {
	p := r.pool(provider)
	p.mu.Lock()
	defer p.mu.Unlock()

	account := r.findAccount(provider, accountID)
	if account == nil {
		return fmt.Errorf("account not found: %s", accountID)
	}

	account.Health.ConsecutiveFailures++
	account.Health.LastErrorCode = failure.Code

	if failure.QuotaExhausted {
		account.Health.ExhaustedLocally = true
	}
	if failure.RateLimited {
		retry := defaultRetryAfterSeconds
		if failure.RetryAfterSeconds != nil {
			retry = *failure.RetryAfterSeconds
		}
		if retry < minRetryAfterSeconds {
			retry = minRetryAfterSeconds
		}
		until := r.now().Add(time.Duration(retry) * time.Second)
		account.Health.CooldownUntil = &until
	}

	p.lastFailoverReason = failure.Code

	logger.Warn("provider error recorded",
		"provider", provider,
		"account", accountID,
		"code", failure.Code,
		"quota_exhausted", failure.QuotaExhausted,
		"rate_limited", failure.RateLimited)

	return r.store.Update(*account)
}

// CurrentAvailability reports whether any account is eligible for the
// provider. AllExhausted is a normal outcome, not an error.
func (r *Router) CurrentAvailability(ctx context.Context, provider models.Provider) (models.Availability, error) {
	candidates, err := r.eligibleAccounts(ctx, provider)
	if err != nil {
		return models.Availability{}, err
	}
	if len(candidates) > 0 {
		return models.Availability{Available: true}, nil
	}

	p := r.pool(provider)
	p.mu.Lock()
	reason := p.lastFailoverReason
	p.mu.Unlock()
	if reason == "" {
		reason = "no_eligible_accounts"
	}
	return models.Availability{Available: false, Reason: reason}, nil
}

// State returns a snapshot of the provider's transient routing state.
func (r *Router) State(provider models.Provider) State {
	p := r.pool(provider)
	p.mu.Lock()
	defer p.mu.Unlock()

	return State{
		Cursor:             p.cursor,
		ActiveAccountID:    p.activeAccountID,
		LastFailoverReason: p.lastFailoverReason,
		LastSwitchAt:       p.lastSwitchAt,
	}
}

// eligibleAccounts computes the ordered candidate set for a provider. The
// set is a function of live health/quota/auth state and is never cached.
// The probe may block; no pool lock is held here, so a slow probe for one
// provider cannot stall selection for another.
func (r *Router) eligibleAccounts(ctx context.Context, provider models.Provider) ([]models.Account, error) {
	accounts := r.store.Accounts(provider)
	now := r.now()

	var candidates []models.Account
	for _, account := range accounts {
		if !account.Enabled {
			continue
		}
		if account.Health.State(now) != models.HealthActive {
			continue
		}
		// A probe error excludes the account: fail closed.
		if r.probe.Detect(ctx, account).Status != probe.StatusLoggedIn {
			continue
		}
		exceeded, err := r.exceedsPolicy(account)
		if err != nil {
			return nil, err
		}
		if exceeded {
			continue
		}
		candidates = append(candidates, account)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].AddedAt.Before(candidates[j].AddedAt)
	})

	return candidates, nil
}

// exceedsPolicy reports whether summed usage has reached any configured
// limit. Reaching a limit exactly counts as exceeded, in both eligibility
// filtering and the post-usage check.
func (r *Router) exceedsPolicy(account models.Account) (bool, error) {
	for _, window := range models.AllWindows() {
		costLimit := account.Quota.CostLimit(window)
		tokenLimit := account.Quota.TokenLimit(window)
		if costLimit == nil && tokenLimit == nil {
			continue
		}

		totals, err := r.ledger.Totals(account.ID, window)
		if err != nil {
			return false, fmt.Errorf("quota check for %s: %w", account.ID, err)
		}

		if costLimit != nil && totals.CostUSD >= *costLimit {
			return true, nil
		}
		if tokenLimit != nil && totals.Tokens >= *tokenLimit {
			return true, nil
		}
	}
	return false, nil
}

// findAccount locates an account by id within a provider's pool.
func (r *Router) findAccount(provider models.Provider, accountID string) *models.Account {
	for _, account := range r.store.Accounts(provider) {
		if account.ID == accountID {
			return &account
		}
	}
	return nil
}

// markSelectedLocked records the active account and switch time. A non-empty
// reason overwrites the stored failover reason so dashboards can show why
// the last switch happened. Caller must hold the pool lock.
func (p *pool) markSelectedLocked(accountID, reason string, now time.Time) {
	p.activeAccountID = accountID
	p.lastSwitchAt = now
	if reason != "" {
		p.lastFailoverReason = reason
	}
}
