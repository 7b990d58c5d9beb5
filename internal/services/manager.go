// Package services wires storage, the usage ledger, auth probing, and
// routing together behind one orchestrator.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/j-veylop/switchboard/internal/config"
	"github.com/j-veylop/switchboard/internal/ledger"
	"github.com/j-veylop/switchboard/internal/models"
	"github.com/j-veylop/switchboard/internal/probe"
	"github.com/j-veylop/switchboard/internal/router"
	"github.com/j-veylop/switchboard/internal/store"
)

const availabilityPollInterval = 30 * time.Second

type (
	// AccountsChangedEvent is emitted when the accounts list changes.
	AccountsChangedEvent struct {
		Accounts []models.Account
	}

	// AvailabilityChangedEvent is emitted when a provider pool flips between
	// having eligible accounts and having none.
	AvailabilityChangedEvent struct {
		Provider     models.Provider
		Availability models.Availability
	}

	// ErrorEvent is emitted when an error occurs in any service.
	ErrorEvent struct {
		Service string
		Error   error
	}

	// StatsEvent is emitted when global statistics are recomputed.
	StatsEvent struct {
		AccountCount       int
		AvailableProviders int
		CostTodayUSD       float64
		TokensToday        int64
	}
)

// ServiceEvent is the interface implemented by all service events.
type ServiceEvent interface {
	isServiceEvent()
}

func (AccountsChangedEvent) isServiceEvent()     {}
func (AvailabilityChangedEvent) isServiceEvent() {}
func (ErrorEvent) isServiceEvent()               {}
func (StatsEvent) isServiceEvent()               {}

// Manager orchestrates services and event routing.
type Manager struct {
	mu           sync.RWMutex
	store        *store.Store
	ledger       *ledger.Ledger
	probe        *probe.ExecProbe
	router       *router.Router
	eventChan    chan ServiceEvent
	stopChan     chan struct{}
	subscribers  []chan<- ServiceEvent
	wasAvailable map[models.Provider]bool
	notify       func(title, body string) error
}

// NewManager creates a manager with all collaborators built from config.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		eventChan:    make(chan ServiceEvent, 100),
		stopChan:     make(chan struct{}),
		wasAvailable: make(map[models.Provider]bool),
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}

	var err error
	m.store, err = store.New(cfg.AccountsPath)
	if err != nil {
		return nil, err
	}

	m.ledger, err = ledger.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage ledger: %w", err)
	}

	m.probe = probe.NewExec(probe.Options{
		ExecutableOverrides: cfg.ExecutableOverrides,
		Timeout:             cfg.ProbeTimeout,
		CacheTTL:            cfg.ProbeCacheTTL,
	})

	m.router = router.New(m.store, m.ledger, m.probe)

	go m.routeEvents()
	go m.watchAvailability()

	return m, nil
}

// routeEvents routes events from individual services to subscribers.
func (m *Manager) routeEvents() {
	for {
		select {
		case event := <-m.store.Events():
			m.handleStoreEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

// handleStoreEvent converts and broadcasts account storage events.
func (m *Manager) handleStoreEvent(event store.Event) {
	switch event.Type {
	case store.EventAccountsLoaded, store.EventAccountsChanged,
		store.EventAccountAdded, store.EventAccountDeleted:

		m.broadcast(AccountsChangedEvent{Accounts: m.store.All()})

	case store.EventAccountUpdated:
		// Profile dir or credentials may have changed under the account.
		if event.Account != nil {
			m.probe.Invalidate(event.Account.ID)
		}
		m.broadcast(AccountsChangedEvent{Accounts: m.store.All()})

	case store.EventError:
		m.broadcast(ErrorEvent{
			Service: "store",
			Error:   event.Error,
		})
	}
}

// watchAvailability polls each provider pool and reports flips between
// available and all-exhausted.
func (m *Manager) watchAvailability() {
	ticker := time.NewTicker(availabilityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAvailability(context.Background())
		case <-m.stopChan:
			return
		}
	}
}

// checkAvailability observes every provider pool.
func (m *Manager) checkAvailability(ctx context.Context) {
	for _, provider := range models.AllProviders() {
		m.checkProviderAvailability(ctx, provider)
	}
}

// checkProviderAvailability compares a pool against its last observed state
// and broadcasts on change. The first observation only records a baseline.
func (m *Manager) checkProviderAvailability(ctx context.Context, provider models.Provider) {
	availability, err := m.router.CurrentAvailability(ctx, provider)
	if err != nil {
		m.broadcast(ErrorEvent{Service: "router", Error: err})
		return
	}

	m.mu.Lock()
	prev, seen := m.wasAvailable[provider]
	m.wasAvailable[provider] = availability.Available
	m.mu.Unlock()

	if !seen || prev == availability.Available {
		return
	}

	m.broadcast(AvailabilityChangedEvent{
		Provider:     provider,
		Availability: availability,
	})

	if !availability.Available {
		title := fmt.Sprintf("All %s accounts exhausted", provider)
		body := fmt.Sprintf("No eligible account remains (%s)", availability.Reason)
		_ = m.notify(title, body)
	}
}

// SelectAccount picks the next eligible account for a provider.
func (m *Manager) SelectAccount(ctx context.Context, provider models.Provider) (*models.Account, error) {
	return m.router.SelectAccount(ctx, provider)
}

// NextAvailableAccount fails over past the given account.
func (m *Manager) NextAvailableAccount(ctx context.Context, afterID string, provider models.Provider) (*models.Account, error) {
	return m.router.NextAvailableAccount(ctx, afterID, provider)
}

// MarkUsage records consumption against an account, then re-checks the pool
// in case the report crossed a quota limit.
func (m *Manager) MarkUsage(accountID string, provider models.Provider, inputTokens, outputTokens int64, estimatedCost float64) error {
	err := m.router.MarkUsage(accountID, provider, inputTokens, outputTokens, estimatedCost)
	if err == nil {
		m.checkProviderAvailability(context.Background(), provider)
	}
	return err
}

// MarkProviderError records a classified provider failure against an account,
// then re-checks the pool so an exhaustion flip is reported promptly.
func (m *Manager) MarkProviderError(accountID string, provider models.Provider, failure models.ClassifiedFailure) error {
	err := m.router.MarkProviderError(accountID, provider, failure)
	if err == nil {
		m.checkProviderAvailability(context.Background(), provider)
	}
	return err
}

// CurrentAvailability reports whether a provider pool has any eligible account.
func (m *Manager) CurrentAvailability(ctx context.Context, provider models.Provider) (models.Availability, error) {
	return m.router.CurrentAvailability(ctx, provider)
}

// broadcast sends an event to all subscribers.
func (m *Manager) broadcast(event ServiceEvent) {
	select {
	case m.eventChan <- event:
	default:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel for receiving service events.
func (m *Manager) Subscribe() chan ServiceEvent {
	ch := make(chan ServiceEvent, 50)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel.
func (m *Manager) Unsubscribe(ch chan ServiceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// GetStats returns aggregated statistics across providers.
func (m *Manager) GetStats(ctx context.Context) StatsEvent {
	stats := StatsEvent{AccountCount: m.store.Count()}

	for _, provider := range models.AllProviders() {
		totals, err := m.ledger.ProviderTotals(provider, models.WindowDay)
		if err == nil {
			stats.CostTodayUSD += totals.CostUSD
			stats.TokensToday += totals.Tokens
		}

		availability, err := m.CurrentAvailability(ctx, provider)
		if err == nil && availability.Available {
			stats.AvailableProviders++
		}
	}

	return stats
}

// Store returns the account storage.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Ledger returns the usage ledger.
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}

// Router returns the account router.
func (m *Manager) Router() *router.Router {
	return m.router
}

// Probe returns the auth probe.
func (m *Manager) Probe() *probe.ExecProbe {
	return m.probe
}

// Close closes the manager and all its services.
func (m *Manager) Close() error {
	close(m.stopChan)

	m.mu.Lock()
	for _, sub := range m.subscribers {
		close(sub)
	}
	m.subscribers = nil
	m.mu.Unlock()

	var errs []error

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if m.ledger != nil {
		if err := m.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
