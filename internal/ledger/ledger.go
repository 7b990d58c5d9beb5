// Package ledger manages the append-only usage database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"

	"github.com/j-veylop/switchboard/internal/models"
)

// timeFormat is lexicographically ordered, so range queries compare directly.
const timeFormat = "2006-01-02 15:04:05"

// Ledger wraps the SQL database connection with usage-accounting methods.
// Entries are append-only; aggregation happens at query time.
type Ledger struct {
	*sql.DB
	path string
}

// New creates a new database connection and initializes the schema.
func New(path string) (*Ledger, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database connection
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l := &Ledger{
		DB:   sqlDB,
		path: path,
	}

	// Configure database
	if err := l.configure(); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	// Create schema
	if err := l.createSchema(); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// configure sets up database pragmas for optimal performance.
func (l *Ledger) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := l.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (l *Ledger) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		account_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		estimated_cost REAL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_usage_events_account_time ON usage_events(account_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_events_provider_time ON usage_events(provider, timestamp);
	`
	_, err := l.ExecContext(context.Background(), query)
	return err
}

// Append records a usage entry. The only validation is presence of the
// account and provider; entries are never modified afterward.
func (l *Ledger) Append(entry models.UsageEntry) error {
	if entry.AccountID == "" {
		return fmt.Errorf("usage entry requires an account id")
	}
	if entry.Provider == "" {
		return fmt.Errorf("usage entry requires a provider")
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	query := `
		INSERT INTO usage_events (
			id, timestamp, account_id, provider,
			input_tokens, output_tokens, estimated_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.ExecContext(context.Background(), query,
		entry.ID,
		timestamp.Format(timeFormat),
		entry.AccountID,
		string(entry.Provider),
		entry.InputTokens,
		entry.OutputTokens,
		entry.EstimatedCost,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage entry: %w", err)
	}

	return nil
}

// Totals sums cost and tokens for an account over the calendar window
// containing the current local time.
func (l *Ledger) Totals(accountID string, window models.Window) (models.UsageTotals, error) {
	start, end := window.Bounds(time.Now())

	query := `
		SELECT COALESCE(SUM(estimated_cost), 0),
		       COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage_events
		WHERE account_id = ? AND timestamp >= ? AND timestamp < ?
	`

	var totals models.UsageTotals
	err := l.QueryRowContext(context.Background(), query,
		accountID, start.Format(timeFormat), end.Format(timeFormat),
	).Scan(&totals.CostUSD, &totals.Tokens)
	if err != nil {
		return models.UsageTotals{}, fmt.Errorf("failed to query usage totals: %w", err)
	}

	return totals, nil
}

// ProviderTotals sums cost and tokens across every account of a provider
// over the calendar window containing the current local time.
func (l *Ledger) ProviderTotals(provider models.Provider, window models.Window) (models.UsageTotals, error) {
	start, end := window.Bounds(time.Now())

	query := `
		SELECT COALESCE(SUM(estimated_cost), 0),
		       COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage_events
		WHERE provider = ? AND timestamp >= ? AND timestamp < ?
	`

	var totals models.UsageTotals
	err := l.QueryRowContext(context.Background(), query,
		string(provider), start.Format(timeFormat), end.Format(timeFormat),
	).Scan(&totals.CostUSD, &totals.Tokens)
	if err != nil {
		return models.UsageTotals{}, fmt.Errorf("failed to query provider totals: %w", err)
	}

	return totals, nil
}

// RecentEntries returns the most recent usage entries, newest first.
func (l *Ledger) RecentEntries(limit int) ([]models.UsageEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, account_id, provider,
		       input_tokens, output_tokens, estimated_cost
		FROM usage_events
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := l.QueryContext(context.Background(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.UsageEntry
	for rows.Next() {
		var entry models.UsageEntry
		var ts, provider string
		if err := rows.Scan(&entry.ID, &ts, &entry.AccountID, &provider,
			&entry.InputTokens, &entry.OutputTokens, &entry.EstimatedCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage entry: %w", err)
		}
		entry.Provider = models.Provider(provider)
		if parsed, err := time.ParseInLocation(timeFormat, ts, time.Local); err == nil {
			entry.Timestamp = parsed
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage entries: %w", err)
	}

	return entries, nil
}

// Close closes the database connection gracefully.
func (l *Ledger) Close() error {
	// Checkpoint WAL before closing
	_, _ = l.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return l.DB.Close()
}

// Vacuum performs database maintenance to reclaim space.
func (l *Ledger) Vacuum() error {
	_, err := l.ExecContext(context.Background(), "VACUUM")
	return err
}
