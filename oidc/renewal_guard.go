package oidc

import "sync"

// RenewalGuard serializes silent renewals per configuration id: at most one
// renewal may be in flight for a configuration at a time.  The guard is
// owned by the client for its whole lifetime and shared between the
// refresh-session orchestrator and the implicit-flow callback (which clears
// it as a safety net on failures).
//
// Every code path that acquires the guard must guarantee it is eventually
// released (success, exhausted retries, cancellation or a non-retryable
// error); a leaked acquisition deadlocks all future renewals for that
// configuration.
type RenewalGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewRenewalGuard creates a guard with no renewals in progress.
func NewRenewalGuard() *RenewalGuard {
	return &RenewalGuard{
		running: map[string]bool{},
	}
}

// TryAcquire atomically marks a renewal as in progress for the
// configuration.  It returns false, without side effects, when one is
// already running.
func (g *RenewalGuard) TryAcquire(configID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[configID] {
		return false
	}
	g.running[configID] = true
	return true
}

// Release clears the in-progress mark for the configuration.  Releasing an
// idle configuration is a no-op.
func (g *RenewalGuard) Release(configID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, configID)
}

// InProgress reports whether a renewal is currently running for the
// configuration.
func (g *RenewalGuard) InProgress(configID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[configID]
}

// Reset clears all in-progress marks.
func (g *RenewalGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = map[string]bool{}
}
