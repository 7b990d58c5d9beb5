package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/j-veylop/switchboard/internal/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	tmpDir := t.TempDir()
	accountsPath := filepath.Join(tmpDir, "accounts.json")

	st, err := New(accountsPath)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("Close() failed: %v", err)
		}
	})

	return st, accountsPath
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	accountsPath := filepath.Join(tmpDir, "accounts.json")

	st, err := New(accountsPath)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer func() {
		_ = st.Close()
	}()

	if _, err := os.Stat(accountsPath); err != nil {
		t.Errorf("accounts file was not created: %v", err)
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") should fail")
	}
}

func TestAdd(t *testing.T) {
	st, _ := newTestStore(t)

	account := models.Account{
		Provider: models.ProviderClaude,
		Label:    "work",
		Enabled:  true,
	}

	if err := st.Add(account); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	accounts := st.Accounts(models.ProviderClaude)
	if len(accounts) != 1 {
		t.Fatalf("Accounts() returned %d accounts, want 1", len(accounts))
	}

	if accounts[0].Label != "work" {
		t.Errorf("account label = %q, want %q", accounts[0].Label, "work")
	}

	if accounts[0].ID == "" {
		t.Error("account ID should be auto-generated")
	}

	if accounts[0].AddedAt.IsZero() {
		t.Error("account AddedAt should be auto-set")
	}
}

func TestAdd_InvalidProvider(t *testing.T) {
	st, _ := newTestStore(t)

	err := st.Add(models.Account{Provider: "openrouter"})
	if err == nil {
		t.Fatal("Add() should reject an unknown provider")
	}

	if st.Count() != 0 {
		t.Error("invalid account should not be stored")
	}
}

func TestAccounts_FiltersByProvider(t *testing.T) {
	st, _ := newTestStore(t)

	for _, p := range []models.Provider{models.ProviderClaude, models.ProviderCodex, models.ProviderClaude} {
		if err := st.Add(models.Account{Provider: p, Enabled: true}); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	if got := len(st.Accounts(models.ProviderClaude)); got != 2 {
		t.Errorf("claude accounts = %d, want 2", got)
	}
	if got := len(st.Accounts(models.ProviderCodex)); got != 1 {
		t.Errorf("codex accounts = %d, want 1", got)
	}
	if got := len(st.Accounts(models.ProviderGemini)); got != 0 {
		t.Errorf("gemini accounts = %d, want 0", got)
	}
}

func TestUpdate(t *testing.T) {
	st, _ := newTestStore(t)

	account := models.Account{Provider: models.ProviderCodex, Enabled: true}
	if err := st.Add(account); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	stored := st.Accounts(models.ProviderCodex)[0]
	until := time.Now().Add(time.Minute)
	stored.Health.ConsecutiveFailures = 2
	stored.Health.CooldownUntil = &until
	stored.Health.LastErrorCode = "rate_limited"

	if err := st.Update(stored); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got := st.Account(stored.ID)
	if got == nil {
		t.Fatal("Account() returned nil after update")
	}
	if got.Health.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got.Health.ConsecutiveFailures)
	}
	if got.Health.CooldownUntil == nil {
		t.Error("CooldownUntil should survive persistence")
	}
	if got.AddedAt.IsZero() {
		t.Error("AddedAt should be preserved across updates")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	st, _ := newTestStore(t)

	err := st.Update(models.Account{ID: "missing", Provider: models.ProviderClaude})
	if err == nil {
		t.Fatal("Update() should fail for unknown account")
	}
}

func TestDelete(t *testing.T) {
	st, _ := newTestStore(t)

	if err := st.Add(models.Account{Provider: models.ProviderGemini, Enabled: true}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	id := st.Accounts(models.ProviderGemini)[0].ID

	if err := st.Delete(id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	if st.Count() != 0 {
		t.Errorf("Count() = %d after delete, want 0", st.Count())
	}

	if err := st.Delete(id); err == nil {
		t.Error("second Delete() should fail")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	st, path := newTestStore(t)

	daily := 10.0
	account := models.Account{
		Provider: models.ProviderClaude,
		Label:    "personal",
		Priority: 3,
		Enabled:  true,
		Quota:    models.QuotaPolicy{DailyCostUSD: &daily},
	}
	if err := st.Add(account); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("New() on existing file failed: %v", err)
	}
	defer func() { _ = reloaded.Close() }()

	accounts := reloaded.Accounts(models.ProviderClaude)
	if len(accounts) != 1 {
		t.Fatalf("reloaded %d accounts, want 1", len(accounts))
	}
	if accounts[0].Priority != 3 {
		t.Errorf("Priority = %d, want 3", accounts[0].Priority)
	}
	if accounts[0].Quota.DailyCostUSD == nil || *accounts[0].Quota.DailyCostUSD != 10.0 {
		t.Error("quota policy should survive a reload")
	}
}

func TestParseAccounts_LegacyArray(t *testing.T) {
	st, _ := newTestStore(t)

	data, err := json.Marshal([]models.Account{
		{ID: "a1", Provider: models.ProviderClaude, Enabled: true},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	accounts, err := st.parseAccounts(data)
	if err != nil {
		t.Fatalf("parseAccounts() failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "a1" {
		t.Errorf("parseAccounts() = %+v, want one account a1", accounts)
	}
}

func TestParseAccounts_Invalid(t *testing.T) {
	st, _ := newTestStore(t)

	if _, err := st.parseAccounts([]byte("not json")); err == nil {
		t.Error("parseAccounts() should fail on garbage input")
	}
}

func TestExternalFileChange(t *testing.T) {
	st, path := newTestStore(t)

	file := AccountsFile{
		Version: 1,
		Accounts: []models.Account{
			{ID: "ext-1", Provider: models.ProviderCodex, Enabled: true, AddedAt: time.Now()},
		},
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-st.Events():
			if ev.Type == EventAccountsChanged {
				if got := st.Account("ext-1"); got == nil {
					t.Fatal("externally added account not visible after reload")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for accounts changed event")
		}
	}
}
