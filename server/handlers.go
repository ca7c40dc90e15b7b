// Package server exposes the HTTP API handlers.
package server

import (
	"context"

	"github.com/onnwee/live-notifier/command"
	"github.com/onnwee/live-notifier/monitor"
	"github.com/onnwee/live-notifier/store"
)

// Sweeper runs one live-detection pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (monitor.SweepResult, error)
}

// CredentialChecker reports whether upstream credentials are present.
type CredentialChecker interface {
	Configured() bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store    store.Store
	commands *command.Handler
	sweeper  Sweeper
	creds    CredentialChecker
}

// NewHandlers creates a new Handlers instance with the given dependencies. sweeper and creds may be nil.
func NewHandlers(st store.Store, commands *command.Handler, sweeper Sweeper, creds CredentialChecker) *Handlers {
	return &Handlers{
		store:    st,
		commands: commands,
		sweeper:  sweeper,
		creds:    creds,
	}
}
