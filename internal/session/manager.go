// Package session owns the idle lifecycle of override sessions.
//
// A session moves Active -> Warning -> Expired as time passes without
// activity. Expiry is checked lazily: every tracked operation first sweeps all
// sessions and purges the expired ones. [Manager.Run] adds a periodic sweep so
// that state is purged even when nobody calls in.
//
// Tracking is lazy as well: a session that never applied an override has no
// tracker and nothing to expire.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxlabel/internal/override"
	"github.com/MrWong99/voxlabel/internal/speaker"
)

// Default lifecycle parameters.
const (
	DefaultTimeout          = 2 * time.Hour
	DefaultWarningThreshold = 5 * time.Minute
	DefaultExtendStep       = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
)

// State is the lifecycle phase of a session.
type State int

const (
	StateActive State = iota
	StateWarning
	StateExpired
)

// String returns the wire name of s.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalJSON encodes s as its wire name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// PurgeReason says why a session's state was dropped.
type PurgeReason string

const (
	PurgeExpired  PurgeReason = "expired"
	PurgeCleared  PurgeReason = "cleared"
	PurgeShutdown PurgeReason = "shutdown"
)

// Timing holds the hot-reloadable lifecycle durations. Zero fields take the
// package defaults.
type Timing struct {
	// Timeout is the idle window after which a session expires.
	Timeout time.Duration

	// WarningThreshold is how long before expiry a session enters Warning.
	WarningThreshold time.Duration

	// ExtendStep is added to a session's window by each [Manager.Extend].
	ExtendStep time.Duration

	// SweepInterval is the period of the background sweep in [Manager.Run].
	SweepInterval time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	if t.WarningThreshold <= 0 {
		t.WarningThreshold = DefaultWarningThreshold
	}
	if t.ExtendStep <= 0 {
		t.ExtendStep = DefaultExtendStep
	}
	if t.SweepInterval <= 0 {
		t.SweepInterval = DefaultSweepInterval
	}
	return t
}

// IdleExpirer drops edit workspaces nobody has touched since a cutoff.
type IdleExpirer interface {
	ExpireIdle(before time.Time, keep func(transcriptionID string) bool) []string
}

// Config configures a [Manager].
type Config struct {
	Timing

	// Now is the clock. It must be the same clock the override registry was
	// built with. Defaults to time.Now.
	Now func() time.Time

	// Workspaces, when set, has its idle workspaces expired by [Manager.Run].
	Workspaces IdleExpirer

	// OnPurge is called after a session's state was dropped. It is called
	// without any lock held. May be nil.
	OnPurge func(sessionID string, reason PurgeReason)
}

// Status is a point-in-time view of one session.
type Status struct {
	SessionID       string        `json:"sessionId"`
	TranscriptionID string        `json:"transcriptionId"`
	State           State         `json:"state"`
	Active          bool          `json:"active"`
	LastActivity    time.Time     `json:"lastActivity"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	Remaining       time.Duration `json:"remaining"`
	Extension       time.Duration `json:"extension"`
	OverrideCount   int           `json:"overrideCount"`
}

// Manager applies the idle lifecycle to the sessions of an
// [override.Registry].
//
// All methods are safe for concurrent use.
type Manager struct {
	overrides  *override.Registry
	now        func() time.Time
	workspaces IdleExpirer
	onPurge    func(string, PurgeReason)

	mu         sync.Mutex
	timing     Timing
	extensions map[string]time.Duration
	lastSweep  time.Time
}

// NewManager returns a Manager over overrides.
func NewManager(overrides *override.Registry, cfg Config) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		overrides:  overrides,
		now:        now,
		workspaces: cfg.Workspaces,
		onPurge:    cfg.OnPurge,
		timing:     cfg.Timing.withDefaults(),
		extensions: make(map[string]time.Duration),
	}
}

// Timing returns the lifecycle durations in effect.
func (m *Manager) Timing() Timing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timing
}

// SetTiming replaces the lifecycle durations. Sessions are re-evaluated
// against the new values on the next sweep.
func (m *Manager) SetTiming(t Timing) {
	m.mu.Lock()
	m.timing = t.withDefaults()
	m.mu.Unlock()
	slog.Info("session: timing updated",
		"timeout", t.Timeout,
		"warning_threshold", t.WarningThreshold,
		"extend_step", t.ExtendStep,
		"sweep_interval", t.SweepInterval,
	)
}

// ApplyOverride sweeps, then applies an override through the registry.
func (m *Manager) ApplyOverride(sessionID, transcriptionID, speakerID, name, role string) ([]speaker.Mapping, error) {
	m.Sweep(m.now())
	return m.overrides.ApplyOverride(sessionID, transcriptionID, speakerID, name, role)
}

// RevertOverride sweeps, then reverts one override. An expired session
// yields a [*override.SessionNotFoundError].
func (m *Manager) RevertOverride(sessionID, speakerID string) ([]speaker.Mapping, error) {
	m.Sweep(m.now())
	return m.overrides.RevertOverride(sessionID, speakerID)
}

// RevertAll sweeps, then reverts every override of the session.
func (m *Manager) RevertAll(sessionID string) (int, error) {
	m.Sweep(m.now())
	return m.overrides.RevertAll(sessionID)
}

// OverrideInfo sweeps, then returns a copy of the session's tracker. Reading
// the tracker counts as activity.
func (m *Manager) OverrideInfo(sessionID string) (override.Tracker, bool) {
	m.Sweep(m.now())
	return m.overrides.OverrideInfo(sessionID)
}

// IsOverridden sweeps, then reports whether speakerID is overridden in the
// session.
func (m *Manager) IsOverridden(sessionID, speakerID string) bool {
	m.Sweep(m.now())
	return m.overrides.IsOverridden(sessionID, speakerID)
}

// Status sweeps, then returns the session's lifecycle view. Observing a
// session does not count as activity. It reports false for unknown and
// purged sessions.
func (m *Manager) Status(sessionID string) (Status, bool) {
	now := m.now()
	m.Sweep(now)

	t, ok := m.overrides.Peek(sessionID)
	if !ok {
		return Status{}, false
	}
	m.mu.Lock()
	timing, ext := m.timing, m.extensions[sessionID]
	m.mu.Unlock()
	return statusOf(t, timing, ext, now), true
}

// Extend adds the extend step to the session's window without touching its
// last activity. Extensions accumulate for the lifetime of the session.
func (m *Manager) Extend(sessionID string) (Status, error) {
	now := m.now()
	m.Sweep(now)

	t, ok := m.overrides.Peek(sessionID)
	if !ok {
		return Status{}, &override.SessionNotFoundError{SessionID: sessionID}
	}

	m.mu.Lock()
	m.extensions[sessionID] += m.timing.ExtendStep
	timing, ext := m.timing, m.extensions[sessionID]
	m.mu.Unlock()

	slog.Debug("session: extended", "session_id", sessionID, "extension", ext)
	return statusOf(t, timing, ext, now), nil
}

// ClearSession purges the session immediately. It reports whether the
// session existed.
func (m *Manager) ClearSession(sessionID string) bool {
	return m.purge(sessionID, PurgeCleared, nil)
}

// ClearAll purges every session and returns how many were dropped.
func (m *Manager) ClearAll() int {
	n := 0
	for _, t := range m.overrides.Sessions() {
		if m.purge(t.SessionID, PurgeShutdown, nil) {
			n++
		}
	}
	return n
}

// Sweep purges every session expired at now and returns their ids.
func (m *Manager) Sweep(now time.Time) []string {
	var purged []string
	for _, t := range m.overrides.Sessions() {
		if m.stateOf(t, now) != StateExpired {
			continue
		}
		// Activity may have raced in since the snapshot; re-check under the
		// registry lock.
		stillExpired := func(cur override.Tracker) bool {
			return m.stateOf(cur, now) == StateExpired
		}
		if m.purge(t.SessionID, PurgeExpired, stillExpired) {
			purged = append(purged, t.SessionID)
		}
	}
	return purged
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.overrides.Len()
}

// LastSweep returns when [Manager.Run] last completed a sweep, or the zero
// time before the first one.
func (m *Manager) LastSweep() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep
}

// Run sweeps once immediately and then every SweepInterval until ctx is
// cancelled. When a workspace registry is configured, workspaces idle for
// longer than the timeout and not owned by a live session are expired as well.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.Timing().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.tick()

		if next := m.Timing().SweepInterval; next != interval {
			interval = next
			ticker.Reset(interval)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) tick() {
	now := m.now()
	if purged := m.Sweep(now); len(purged) > 0 {
		slog.Info("session: sweep purged sessions", "count", len(purged))
	}
	m.expireWorkspaces(now)

	m.mu.Lock()
	m.lastSweep = now
	m.mu.Unlock()
}

func (m *Manager) expireWorkspaces(now time.Time) {
	if m.workspaces == nil {
		return
	}
	owned := make(map[string]bool)
	for _, t := range m.overrides.Sessions() {
		owned[t.TranscriptionID] = true
	}
	cutoff := now.Add(-m.Timing().Timeout)
	dropped := m.workspaces.ExpireIdle(cutoff, func(id string) bool { return owned[id] })
	if len(dropped) > 0 {
		slog.Info("session: expired idle workspaces", "count", len(dropped))
	}
}

func (m *Manager) purge(sessionID string, reason PurgeReason, pred func(override.Tracker) bool) bool {
	if !m.overrides.ClearSessionIf(sessionID, pred) {
		return false
	}

	m.mu.Lock()
	delete(m.extensions, sessionID)
	m.mu.Unlock()

	slog.Info("session: purged", "session_id", sessionID, "reason", reason)
	if m.onPurge != nil {
		m.onPurge(sessionID, reason)
	}
	return true
}

func (m *Manager) stateOf(t override.Tracker, now time.Time) State {
	m.mu.Lock()
	timing, ext := m.timing, m.extensions[t.SessionID]
	m.mu.Unlock()
	return statusOf(t, timing, ext, now).State
}

func statusOf(t override.Tracker, timing Timing, ext time.Duration, now time.Time) Status {
	expires := t.LastActivity.Add(timing.Timeout + ext)
	remaining := expires.Sub(now)

	state := StateActive
	switch {
	case remaining <= 0:
		state = StateExpired
		remaining = 0
	case remaining <= timing.WarningThreshold:
		state = StateWarning
	}

	return Status{
		SessionID:       t.SessionID,
		TranscriptionID: t.TranscriptionID,
		State:           state,
		Active:          state != StateExpired,
		LastActivity:    t.LastActivity,
		ExpiresAt:       expires,
		Remaining:       remaining,
		Extension:       ext,
		OverrideCount:   t.OverrideCount(),
	}
}
