// Package guard enforces the hub-pushed exit-lock policy on a spoke:
// fullscreen confinement, tab-switch detection and the blocking
// acknowledgement overlay.
package guard

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/domain"
)

// LockState is the guard's two-state machine.
type LockState string

const (
	Unlocked LockState = "unlocked"
	Locked   LockState = "locked"
)

// ErrStillHidden rejects an overlay acknowledgement while the page is
// not visible.
var ErrStillHidden = errors.New("guard: page still hidden")

// reentryDelay paces the single fullscreen re-entry attempt after a
// detected exit.
const reentryDelay = 500 * time.Millisecond

// Platform is the surface the guard controls. Implementations adapt
// whatever windowing environment hosts the spoke.
type Platform interface {
	// RequestFullscreen asks for fullscreen presentation. Denial is
	// not fatal; the guard retries opportunistically on the next
	// violation cycle rather than looping.
	RequestFullscreen() error
	ExitFullscreen()
	FullscreenActive() bool
	PageHidden() bool

	// SetClosePrompt toggles the platform's native leave-confirmation
	// prompt. Best effort; not all platforms honor it.
	SetClosePrompt(enabled bool)
}

// Reporter carries violations to the hub. Satisfied by the relay
// engine.
type Reporter interface {
	ReportViolation(kind domain.ViolationKind, detail string)
}

// Guard applies exit-lock policy. Apply is driven by settings pushes;
// OnVisibilityChange and OnFullscreenChange are fed by the platform
// event forwarder.
type Guard struct {
	plat Platform
	rep  Reporter
	log  zerolog.Logger

	mu      sync.Mutex
	state   LockState
	overlay bool
	holding bool // fullscreen was entered by us
}

func New(plat Platform, rep Reporter, logger zerolog.Logger) *Guard {
	return &Guard{
		plat:  plat,
		rep:   rep,
		log:   logger.With().Str("module", "guard").Logger(),
		state: Unlocked,
	}
}

// State returns the current lock state.
func (g *Guard) State() LockState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// OverlayShown reports whether the blocking overlay is up.
func (g *Guard) OverlayShown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.overlay
}

// Apply transitions the guard according to the pushed policy.
func (g *Guard) Apply(policy domain.SessionPolicy) {
	if policy.ExitLock {
		g.lock()
	} else {
		g.unlock()
	}
}

func (g *Guard) lock() {
	g.mu.Lock()
	if g.state == Locked {
		g.mu.Unlock()
		return
	}
	g.state = Locked
	g.mu.Unlock()

	g.plat.SetClosePrompt(true)
	if err := g.plat.RequestFullscreen(); err != nil {
		// Denied now; retried on the next violation cycle.
		g.log.Warn().Err(err).Msg("fullscreen request denied")
	} else {
		g.mu.Lock()
		g.holding = true
		g.mu.Unlock()
	}
	g.log.Info().Msg("exit lock engaged")
}

func (g *Guard) unlock() {
	g.mu.Lock()
	if g.state == Unlocked {
		g.mu.Unlock()
		return
	}
	g.state = Unlocked
	g.overlay = false
	holding := g.holding
	g.holding = false
	g.mu.Unlock()

	g.plat.SetClosePrompt(false)
	if holding && g.plat.FullscreenActive() {
		g.plat.ExitFullscreen()
	}
	g.log.Info().Msg("exit lock released")
}

// OnVisibilityChange reports page visibility transitions. Losing
// visibility while locked is a tab-switch violation and raises the
// overlay; exactly one violation per hidden transition.
func (g *Guard) OnVisibilityChange(hidden bool) {
	if !hidden {
		return
	}
	g.mu.Lock()
	if g.state != Locked {
		g.mu.Unlock()
		return
	}
	g.overlay = true
	g.mu.Unlock()

	g.rep.ReportViolation(domain.ViolationTabSwitch, "switched away from the interview tab")
	g.log.Warn().Msg("tab switch while locked")
}

// OnFullscreenChange reports fullscreen transitions. Leaving
// fullscreen while locked is a violation; one re-entry attempt is
// scheduled after a short delay.
func (g *Guard) OnFullscreenChange(active bool) {
	if active {
		return
	}
	g.mu.Lock()
	if g.state != Locked {
		g.mu.Unlock()
		return
	}
	g.overlay = true
	g.mu.Unlock()

	g.rep.ReportViolation(domain.ViolationFullscreenExit, "exited fullscreen while exit lock is active")
	g.log.Warn().Msg("fullscreen exit while locked")

	time.AfterFunc(reentryDelay, func() {
		g.mu.Lock()
		locked := g.state == Locked
		g.mu.Unlock()
		if !locked || g.plat.FullscreenActive() {
			return
		}
		if err := g.plat.RequestFullscreen(); err != nil {
			g.log.Warn().Err(err).Msg("fullscreen re-entry denied")
			return
		}
		g.mu.Lock()
		g.holding = true
		g.mu.Unlock()
	})
}

// Acknowledge clears the overlay. Accepted only once the page is
// visible again; while locked it also tries to restore fullscreen.
func (g *Guard) Acknowledge() error {
	if g.plat.PageHidden() {
		return ErrStillHidden
	}
	g.mu.Lock()
	g.overlay = false
	locked := g.state == Locked
	g.mu.Unlock()

	if locked && !g.plat.FullscreenActive() {
		if err := g.plat.RequestFullscreen(); err != nil {
			g.log.Warn().Err(err).Msg("fullscreen request denied on acknowledge")
		} else {
			g.mu.Lock()
			g.holding = true
			g.mu.Unlock()
		}
	}
	return nil
}

// Release drops the lock during teardown without reporting anything.
func (g *Guard) Release() {
	g.unlock()
}
