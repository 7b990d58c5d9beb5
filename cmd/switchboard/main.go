// Package main is the entry point for the switchboard CLI. It loads
// configuration, wires the service manager, and dispatches subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/j-veylop/switchboard/internal/config"
	"github.com/j-veylop/switchboard/internal/models"
	"github.com/j-veylop/switchboard/internal/services"
	"github.com/j-veylop/switchboard/internal/version"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Handle help flag
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		printUsage()
		if len(os.Args) < 2 {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches a subcommand, separated from main for cleaner error handling.
func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	mgr, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
		}
	}()

	// Probes spawn subprocesses; let Ctrl+C cancel them cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "pick":
		return runPick(ctx, mgr, args)
	case "next":
		return runNext(ctx, mgr, args)
	case "status":
		return runStatus(ctx, mgr)
	case "accounts":
		return runAccounts(mgr, args)
	case "usage":
		return runUsage(mgr, args)
	case "error":
		return runError(mgr, args)
	case "recent":
		return runRecent(mgr, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runPick selects the next eligible account for a provider and prints it.
func runPick(ctx context.Context, mgr *services.Manager, args []string) error {
	provider, err := providerArg(args, "pick")
	if err != nil {
		return err
	}

	account, err := mgr.SelectAccount(ctx, provider)
	if err != nil {
		return err
	}
	if account == nil {
		availability, availErr := mgr.CurrentAvailability(ctx, provider)
		if availErr != nil {
			return availErr
		}
		return fmt.Errorf("no eligible %s account (%s)", provider, availability.Reason)
	}

	printAccount(*account)
	return nil
}

// runNext fails over to the account after the given one.
func runNext(ctx context.Context, mgr *services.Manager, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: switchboard next <provider> <after-account-id>")
	}
	provider, err := models.ParseProvider(args[0])
	if err != nil {
		return err
	}

	account, err := mgr.NextAvailableAccount(ctx, args[1], provider)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no eligible %s account to fail over to", provider)
	}

	printAccount(*account)
	return nil
}

// runStatus prints every provider pool with per-account health and usage.
func runStatus(ctx context.Context, mgr *services.Manager) error {
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	for _, provider := range models.AllProviders() {
		availability, err := mgr.CurrentAvailability(ctx, provider)
		if err != nil {
			return err
		}

		label := "available"
		if !availability.Available {
			label = "exhausted (" + availability.Reason + ")"
		}
		fmt.Fprintf(w, "%s\t%s\n", provider, label)

		for _, account := range mgr.Store().Accounts(provider) {
			totals, err := mgr.Ledger().Totals(account.ID, models.WindowDay)
			if err != nil {
				return err
			}
			state := account.Health.State(now).String()
			if !account.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t$%.2f today\t%d tokens\n",
				account.ID, account.Label, state, totals.CostUSD, totals.Tokens)
		}
	}

	stats := mgr.GetStats(ctx)
	fmt.Fprintf(w, "\n%d accounts\t%d providers available\t$%.2f today\n",
		stats.AccountCount, stats.AvailableProviders, stats.CostTodayUSD)

	return w.Flush()
}

// runAccounts lists or mutates the stored accounts.
func runAccounts(mgr *services.Manager, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tLABEL\tPRIORITY\tENABLED")
		for _, account := range mgr.Store().All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n",
				account.ID, account.Provider, account.Label, account.Priority, account.Enabled)
		}
		return w.Flush()
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("accounts add", flag.ContinueOnError)
		providerName := fs.String("provider", "", "provider name (claude, codex, gemini)")
		accountLabel := fs.String("label", "", "human-readable label")
		profileDir := fs.String("profile-dir", "", "isolated credential directory")
		priority := fs.Int("priority", 0, "selection priority, lower first")
		dailyCost := fs.Float64("daily-cost-usd", 0, "daily cost ceiling in USD (0 = unlimited)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		provider, err := models.ParseProvider(*providerName)
		if err != nil {
			return err
		}
		account := models.Account{
			Provider:   provider,
			Label:      *accountLabel,
			ProfileDir: *profileDir,
			Priority:   *priority,
			Enabled:    true,
		}
		if *dailyCost > 0 {
			account.Quota.DailyCostUSD = dailyCost
		}
		return mgr.Store().Add(account)

	case "remove":
		if len(args) < 2 {
			return fmt.Errorf("usage: switchboard accounts remove <account-id>")
		}
		return mgr.Store().Delete(args[1])

	case "enable", "disable":
		if len(args) < 2 {
			return fmt.Errorf("usage: switchboard accounts %s <account-id>", args[0])
		}
		account := mgr.Store().Account(args[1])
		if account == nil {
			return fmt.Errorf("account not found: %s", args[1])
		}
		account.Enabled = args[0] == "enable"
		return mgr.Store().Update(*account)

	default:
		return fmt.Errorf("unknown accounts subcommand: %s", args[0])
	}
}

// runUsage records consumption against an account.
func runUsage(mgr *services.Manager, args []string) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	inputTokens := fs.Int64("in", 0, "input tokens consumed")
	outputTokens := fs.Int64("out", 0, "output tokens consumed")
	cost := fs.Float64("cost", 0, "estimated cost in USD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: switchboard usage [flags] <account-id> <provider>")
	}
	provider, err := models.ParseProvider(rest[1])
	if err != nil {
		return err
	}

	return mgr.MarkUsage(rest[0], provider, *inputTokens, *outputTokens, *cost)
}

// runError records a classified provider failure against an account.
func runError(mgr *services.Manager, args []string) error {
	fs := flag.NewFlagSet("error", flag.ContinueOnError)
	code := fs.String("code", "provider_error", "stable error code")
	rateLimited := fs.Bool("rate-limited", false, "the provider asked to slow down")
	quotaExhausted := fs.Bool("quota-exhausted", false, "the provider reported quota exhaustion")
	retryAfter := fs.Int("retry-after", 0, "provider-suggested retry delay in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: switchboard error [flags] <account-id> <provider>")
	}
	provider, err := models.ParseProvider(rest[1])
	if err != nil {
		return err
	}

	failure := models.ClassifiedFailure{
		Code:           *code,
		RateLimited:    *rateLimited,
		QuotaExhausted: *quotaExhausted,
	}
	if *retryAfter > 0 {
		failure.RetryAfterSeconds = retryAfter
	}

	return mgr.MarkProviderError(rest[0], provider, failure)
}

// runRecent prints the newest ledger entries.
func runRecent(mgr *services.Manager, args []string) error {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := mgr.Ledger().RecentEntries(*limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tACCOUNT\tPROVIDER\tTOKENS\tCOST")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\n",
			entry.Timestamp.Format(time.RFC3339), entry.AccountID, entry.Provider,
			entry.InputTokens+entry.OutputTokens, entry.EstimatedCost)
	}
	return w.Flush()
}

// printAccount prints one selected account in a shell-friendly form.
func printAccount(account models.Account) {
	fields := []string{
		"id=" + account.ID,
		"provider=" + string(account.Provider),
	}
	if account.Label != "" {
		fields = append(fields, "label="+account.Label)
	}
	if account.ProfileDir != "" {
		fields = append(fields, "profile_dir="+account.ProfileDir)
	}
	fmt.Println(strings.Join(fields, " "))
}

// providerArg parses the single provider argument shared by pick and status.
func providerArg(args []string, command string) (models.Provider, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: switchboard %s <provider>", command)
	}
	return models.ParseProvider(args[0])
}

// printUsage prints the command-line usage information.
func printUsage() {
	fmt.Println(`Switchboard - credentialed account pool router for AI CLIs

Usage:
  switchboard <command> [args]

Commands:
  pick <provider>                    Select the next eligible account
  next <provider> <after-id>         Fail over past an account
  status                             Show pools, health, and usage
  accounts [list|add|remove|enable|disable]
                                     Manage stored accounts
  usage [flags] <account-id> <provider>
                                     Record token/cost consumption
  error [flags] <account-id> <provider>
                                     Record a classified provider failure
  recent [-n N]                      Show the newest ledger entries

Flags:
  -h, --help      Show this help message
  -v, --version   Show version information

Environment Variables:
  DATABASE_PATH      SQLite usage ledger path
  ACCOUNTS_PATH      Accounts JSON file path
  PROBE_CACHE_TTL    Auth probe cache lifetime (default: 30s)
  PROBE_TIMEOUT      Auth probe subprocess timeout (default: 10s)
  CLAUDE_BIN, CODEX_BIN, GEMINI_BIN
                     Explicit provider CLI paths

Configuration:
  The application looks for .env files in the following locations:
  - Current directory
  - ~/.config/switchboard/.env
  - ~/.switchboard/.env

For more information, visit: https://github.com/j-veylop/switchboard`)
}
