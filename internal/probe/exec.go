package probe

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/j-veylop/switchboard/internal/logger"
	"github.com/j-veylop/switchboard/internal/models"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 30 * time.Second
)

// CommandOutput is what the injected runner reports back.
type CommandOutput struct {
	Stdout   string
	ExitCode int
}

// Runner executes a probe subprocess. Swapped out in tests.
type Runner func(ctx context.Context, name string, args []string, env []string) (CommandOutput, error)

type cachedResult struct {
	result    Result
	fetchedAt time.Time
}

// ExecProbe detects login state by invoking each provider's CLI against the
// account's profile directory. Results are cached for a short TTL and
// concurrent probes for the same account are collapsed into one subprocess.
type ExecProbe struct {
	mu        sync.RWMutex
	cache     map[string]cachedResult
	group     singleflight.Group
	overrides map[models.Provider]string
	runner    Runner
	lookPath  func(string) (string, error)
	now       func() time.Time
	timeout   time.Duration
	ttl       time.Duration
}

// NewExec creates an exec-based detector.
func NewExec(opts Options) *ExecProbe {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &ExecProbe{
		cache:     make(map[string]cachedResult),
		overrides: opts.ExecutableOverrides,
		runner:    runCommand,
		lookPath:  exec.LookPath,
		now:       time.Now,
		timeout:   timeout,
		ttl:       ttl,
	}
}

// Detect reports the auth state of the account, reusing a cached result when
// it is fresh enough.
func (p *ExecProbe) Detect(ctx context.Context, account models.Account) Result {
	p.mu.RLock()
	cached, ok := p.cache[account.ID]
	p.mu.RUnlock()

	if ok && p.now().Sub(cached.fetchedAt) < p.ttl {
		return cached.result
	}

	value, _, _ := p.group.Do(account.ID, func() (any, error) {
		result := p.detect(ctx, account)
		p.mu.Lock()
		p.cache[account.ID] = cachedResult{result: result, fetchedAt: p.now()}
		p.mu.Unlock()
		return result, nil
	})

	return value.(Result)
}

// Invalidate drops the cached result for an account, forcing the next Detect
// to probe again (used after logins and external credential changes).
func (p *ExecProbe) Invalidate(accountID string) {
	p.mu.Lock()
	delete(p.cache, accountID)
	p.mu.Unlock()
}

func (p *ExecProbe) detect(ctx context.Context, account models.Account) Result {
	binary, err := p.resolveExecutable(account.Provider)
	if err != nil {
		return Result{Status: StatusNotInstalled}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := authStatusArgs(account.Provider)
	env := profileEnv(account)

	output, err := p.runner(runCtx, binary, args, env)
	if err != nil {
		logger.Warn("auth probe failed",
			"provider", account.Provider,
			"account", account.ID,
			"error", err)
		return Result{Status: StatusError, Message: err.Error()}
	}

	if output.ExitCode != 0 {
		return Result{Status: StatusNotLoggedIn}
	}

	return Result{Status: StatusLoggedIn, Method: parseAuthMethod(output.Stdout)}
}

// resolveExecutable maps a provider to its binary, honoring an explicit
// override before falling back to PATH lookup.
func (p *ExecProbe) resolveExecutable(provider models.Provider) (string, error) {
	if override := p.overrides[provider]; override != "" {
		return override, nil
	}
	return p.lookPath(executableName(provider))
}

// executableName returns the CLI binary name for each provider.
func executableName(provider models.Provider) string {
	switch provider {
	case models.ProviderClaude:
		return "claude"
	case models.ProviderCodex:
		return "codex"
	case models.ProviderGemini:
		return "gemini"
	}
	return string(provider)
}

// authStatusArgs returns the argv that makes each CLI report login state.
func authStatusArgs(provider models.Provider) []string {
	switch provider {
	case models.ProviderCodex:
		return []string{"login", "status"}
	case models.ProviderClaude, models.ProviderGemini:
		return []string{"auth", "status"}
	}
	return []string{"auth", "status"}
}

// profileEnv builds the subprocess environment, pointing the CLI at the
// account's isolated profile directory when one is configured.
func profileEnv(account models.Account) []string {
	env := os.Environ()
	if account.ProfileDir == "" {
		return env
	}

	switch account.Provider {
	case models.ProviderClaude:
		env = append(env, "CLAUDE_CONFIG_DIR="+account.ProfileDir)
	case models.ProviderCodex:
		env = append(env, "CODEX_HOME="+account.ProfileDir)
	case models.ProviderGemini:
		env = append(env, "GEMINI_CONFIG_DIR="+account.ProfileDir)
	}
	return env
}

// parseAuthMethod extracts the login method from CLI status output.
func parseAuthMethod(stdout string) string {
	lower := strings.ToLower(stdout)
	if strings.Contains(lower, "api key") || strings.Contains(lower, "api_key") {
		return "api_key"
	}
	return "oauth"
}

// runCommand is the default Runner.
func runCommand(ctx context.Context, name string, args []string, env []string) (CommandOutput, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return CommandOutput{Stdout: stdout.String(), ExitCode: exitErr.ExitCode()}, nil
		}
		return CommandOutput{}, err
	}
	return CommandOutput{Stdout: stdout.String(), ExitCode: 0}, nil
}
