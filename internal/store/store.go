// Package store provides durable account storage with file watching and persistence.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/j-veylop/switchboard/internal/logger"
	"github.com/j-veylop/switchboard/internal/models"
)

// AccountsFile represents the JSON file structure for accounts storage.
type AccountsFile struct {
	Accounts []models.Account `json:"accounts"`
	Version  int              `json:"version,omitempty"`
}

// Event represents a store event.
type Event struct {
	Type    EventType
	Error   error
	Account *models.Account
}

// EventType defines the type of store event.
type EventType int

const (
	EventAccountsLoaded EventType = iota
	EventAccountsChanged
	EventAccountAdded
	EventAccountUpdated
	EventAccountDeleted
	EventError
)

// Store manages accounts with file watching and change notifications.
type Store struct {
	mu            sync.RWMutex
	accounts      []models.Account
	filePath      string
	watcher       *fsnotify.Watcher
	eventChan     chan Event
	stopChan      chan struct{}
	debounceTimer *time.Timer
}

// New creates a new account store and starts file watching.
func New(filePath string) (*Store, error) {
	if filePath == "" {
		return nil, fmt.Errorf("accounts file path is required")
	}

	s := &Store{
		accounts:  make([]models.Account, 0),
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	// Ensure directory exists
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create accounts directory: %w", err)
	}

	// Load accounts from file
	if err := s.loadAccounts(); err != nil {
		// If file doesn't exist, create empty accounts file
		if os.IsNotExist(err) {
			if err := s.saveAccounts(); err != nil {
				return nil, fmt.Errorf("failed to create accounts file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
	}

	// Start file watcher
	if err := s.startWatcher(); err != nil {
		return nil, fmt.Errorf("failed to start file watcher: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountsLoaded})

	return s, nil
}

// Events returns the event channel for subscribing to account changes.
func (s *Store) Events() <-chan Event {
	return s.eventChan
}

// All returns a copy of every stored account.
func (s *Store) All() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, len(s.accounts))
	for i := range s.accounts {
		accounts[i] = s.accounts[i].Clone()
	}
	return accounts
}

// Accounts returns a copy of all accounts belonging to the given provider.
func (s *Store) Accounts(provider models.Provider) []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []models.Account
	for i := range s.accounts {
		if s.accounts[i].Provider == provider {
			accounts = append(accounts, s.accounts[i].Clone())
		}
	}
	return accounts
}

// Account returns a copy of the account with the given id, or nil.
func (s *Store) Account(id string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if s.accounts[i].ID == id {
			acc := s.accounts[i].Clone()
			return &acc
		}
	}
	return nil
}

// Add adds a new account, filling in id and creation time when absent.
func (s *Store) Add(account models.Account) error {
	if !account.Provider.Valid() {
		return fmt.Errorf("invalid provider: %q", account.Provider)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if acc.ID == account.ID && account.ID != "" {
			return fmt.Errorf("account with id %s already exists", account.ID)
		}
	}

	// Set defaults
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.AddedAt.IsZero() {
		account.AddedAt = time.Now()
	}

	s.accounts = append(s.accounts, account)

	if err := s.saveAccountsLocked(); err != nil {
		// Rollback
		s.accounts = s.accounts[:len(s.accounts)-1]
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountAdded, Account: &account})
	return nil
}

// Update replaces the stored account with the same id. The router uses this
// to persist health mutations; last writer wins.
func (s *Store) Update(account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i, acc := range s.accounts {
		if acc.ID == account.ID {
			// Preserve identity fields the caller left unset
			if account.AddedAt.IsZero() {
				account.AddedAt = acc.AddedAt
			}
			if account.Provider == "" {
				account.Provider = acc.Provider
			}
			s.accounts[i] = account
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("account not found: %s", account.ID)
	}

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountUpdated, Account: &account})
	return nil
}

// Delete removes an account by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	var deleted models.Account
	for i, acc := range s.accounts {
		if acc.ID == id {
			idx = i
			deleted = acc
			break
		}
	}

	if idx == -1 {
		return fmt.Errorf("account not found: %s", id)
	}

	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)

	if err := s.saveAccountsLocked(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}

	s.sendEvent(Event{Type: EventAccountDeleted, Account: &deleted})
	return nil
}

// Count returns the number of accounts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// parseAccounts parses account data handling both file formats.
func (s *Store) parseAccounts(data []byte) ([]models.Account, error) {
	// 1. Try standard AccountsFile format
	var accountsFile AccountsFile
	if err := json.Unmarshal(data, &accountsFile); err == nil && accountsFile.Accounts != nil {
		return accountsFile.Accounts, nil
	}

	// 2. Try legacy array format
	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err == nil {
		return accounts, nil
	}

	return nil, fmt.Errorf("failed to parse accounts file: invalid format")
}

// loadAccounts loads accounts from the JSON file.
func (s *Store) loadAccounts() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	accounts, err := s.parseAccounts(data)
	if err != nil {
		return err
	}

	s.accounts = accounts
	return nil
}

// saveAccounts saves accounts to the JSON file (public version).
func (s *Store) saveAccounts() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccountsLocked()
}

// saveAccountsLocked saves accounts to the JSON file (must hold lock).
func (s *Store) saveAccountsLocked() error {
	accountsFile := AccountsFile{
		Accounts: s.accounts,
		Version:  1,
	}

	data, err := json.MarshalIndent(accountsFile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	// Write to temp file first, then rename
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// startWatcher starts the file system watcher.
func (s *Store) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory (to catch file creation/deletion)
	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Store) watchLoop() {
	const debounceInterval = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			// Only care about our accounts file
			if filepath.Base(event.Name) != filepath.Base(s.filePath) {
				continue
			}

			// Handle write/create events
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce rapid changes
				if s.debounceTimer != nil {
					s.debounceTimer.Stop()
				}
				s.debounceTimer = time.AfterFunc(debounceInterval, func() {
					s.handleFileChange()
				})
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

// handleFileChange reloads accounts from file after external change.
func (s *Store) handleFileChange() {
	s.mu.Lock()
	data, err := os.ReadFile(s.filePath)
	if err == nil {
		var accounts []models.Account
		if accounts, err = s.parseAccounts(data); err == nil {
			s.accounts = accounts
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}

	s.sendEvent(Event{Type: EventAccountsChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Store) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the file watcher and cleans up resources.
func (s *Store) Close() error {
	close(s.stopChan)

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
