// Package probe detects the installation and login state of provider CLIs.
package probe

import (
	"context"
	"time"

	"github.com/j-veylop/switchboard/internal/models"
)

// Status is the outcome of an auth probe.
type Status int

const (
	// StatusNotInstalled means the provider executable could not be found.
	StatusNotInstalled Status = iota
	// StatusNotLoggedIn means the executable ran but reported no session.
	StatusNotLoggedIn
	// StatusLoggedIn means the account has a usable session.
	StatusLoggedIn
	// StatusError means the probe itself failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNotInstalled:
		return "not_installed"
	case StatusNotLoggedIn:
		return "not_logged_in"
	case StatusLoggedIn:
		return "logged_in"
	default:
		return "error"
	}
}

// Result carries the probe outcome. Method is set only for StatusLoggedIn,
// Message only for StatusError.
type Result struct {
	Method  string
	Message string
	Status  Status
}

// Detector reports the current auth state of an account. Implementations may
// spawn a subprocess; callers must tolerate blocking up to the probe timeout.
type Detector interface {
	Detect(ctx context.Context, account models.Account) Result
}

// Options configures an exec-based detector.
type Options struct {
	// ExecutableOverrides maps providers to explicit binary paths.
	ExecutableOverrides map[models.Provider]string
	// Timeout bounds each probe subprocess.
	Timeout time.Duration
	// CacheTTL is how long a probe result is reused before re-running.
	CacheTTL time.Duration
}
