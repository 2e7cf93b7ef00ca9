package proctor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/domain"
)

const (
	// sampleInterval is the detection cadence.
	sampleInterval = 1500 * time.Millisecond

	// noFaceDebounce is how many consecutive empty ticks must pass
	// before a no-face violation fires.
	noFaceDebounce = 5

	// lookAwayEvery emits a looking-away violation on every Nth
	// consecutive looking-away tick.
	lookAwayEvery = 3

	// noseOffsetLimit and the horizontal band bound the head pose.
	noseOffsetLimit = 0.6
	bandLow         = 0.15
	bandHigh        = 0.85

	// movementRatio flags centroid jumps larger than this fraction of
	// the frame width between consecutive ticks.
	movementRatio = 0.25
)

// Engine watches one participant. Start launches the sampling loop;
// Record ingests violations observed elsewhere (the exit-lock guard
// reports arrive through the relay). Violations are append-only for
// the whole session.
type Engine struct {
	det       Detector
	candidate string
	log       zerolog.Logger
	interval  time.Duration
	now       func() time.Time
	notify    func(domain.Violation)

	cancel context.CancelFunc

	mu           sync.Mutex
	faceState    domain.FaceState
	score        domain.TrustScore
	violations   []domain.Violation
	noFaceStreak int
	lookStreak   int
	lastCenter   *Point
	inflight     bool
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithInterval overrides the sampling period. Test hook.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClock overrides the violation timestamp source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotify registers a callback invoked for every new violation.
func WithNotify(fn func(domain.Violation)) Option {
	return func(e *Engine) { e.notify = fn }
}

func New(det Detector, candidate string, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		det:       det,
		candidate: candidate,
		log:       logger.With().Str("module", "proctor").Logger(),
		interval:  sampleInterval,
		now:       time.Now,
		faceState: domain.FaceDetecting,
		score:     domain.TrustScoreStart,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start launches the fixed-period sampling loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.loop(ctx)
	e.log.Info().Str("candidate", e.candidate).Dur("interval", e.interval).Msg("monitoring started")
}

// Stop ends the sampling loop. The accumulated state stays readable.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// FaceState reports the latest per-tick classification.
func (e *Engine) FaceState() domain.FaceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faceState
}

// TrustScore reports the current score.
func (e *Engine) TrustScore() domain.TrustScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score
}

// Violations returns a copy of the chronological violation log.
func (e *Engine) Violations() []domain.Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Violation, len(e.violations))
	copy(out, e.violations)
	return out
}

// Record ingests a violation observed outside the sampling loop, such
// as a tab switch reported by a spoke. Severity follows the standing
// table for the kind.
func (e *Engine) Record(kind domain.ViolationKind, sev domain.Severity, message string) domain.Violation {
	e.mu.Lock()
	v := e.appendLocked(kind, sev, message)
	e.mu.Unlock()
	e.emit(v)
	return v
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one detection unless the previous one is still in flight;
// overlapping ticks are skipped, never queued.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	if e.inflight {
		e.mu.Unlock()
		return
	}
	e.inflight = true
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			e.inflight = false
			e.mu.Unlock()
		}()

		frame, err := e.det.Detect(ctx)
		if err != nil {
			e.log.Debug().Err(err).Msg("detection failed")
			return
		}
		e.classify(frame)
	}()
}

// classify applies the per-tick rules in priority order: no face,
// multiple faces, head pose, then centroid movement.
func (e *Engine) classify(frame Frame) {
	var fired []domain.Violation

	e.mu.Lock()
	switch {
	case len(frame.Faces) == 0:
		e.faceState = domain.FaceNone
		e.lookStreak = 0
		e.lastCenter = nil
		e.noFaceStreak++
		if e.noFaceStreak >= noFaceDebounce {
			secs := int(math.Round(float64(e.noFaceStreak) * e.interval.Seconds()))
			fired = append(fired, e.appendLocked(domain.ViolationNoFace, domain.SeverityHigh,
				fmt.Sprintf("No face detected for %ds. Please face the camera.", secs)))
			e.noFaceStreak = 0
		}

	case len(frame.Faces) > 1:
		e.faceState = domain.FaceMultiple
		e.noFaceStreak = 0
		e.lookStreak = 0
		e.lastCenter = nil
		fired = append(fired, e.appendLocked(domain.ViolationMultipleFaces, domain.SeverityCritical,
			fmt.Sprintf("%d faces detected. Only the candidate should be visible.", len(frame.Faces))))

	default:
		e.noFaceStreak = 0
		face := frame.Faces[0]
		center := face.Box.Center()
		normX := 0.0
		if frame.Width > 0 {
			normX = center.X / frame.Width
		}

		if noseOffset(face) > noseOffsetLimit || normX < bandLow || normX > bandHigh {
			e.faceState = domain.FaceLookingAway
			e.lookStreak++
			if e.lookStreak%lookAwayEvery == 0 {
				fired = append(fired, e.appendLocked(domain.ViolationLookingAway, domain.SeverityMedium,
					"Looking away from camera detected. Please face the screen."))
			}
		} else {
			e.faceState = domain.FaceOk
			e.lookStreak = 0
		}

		if e.lastCenter != nil && distance(center, *e.lastCenter) > frame.Width*movementRatio {
			fired = append(fired, e.appendLocked(domain.ViolationSuddenMovement, domain.SeverityLow,
				"Sudden head movement detected"))
		}
		e.lastCenter = &center
	}
	e.mu.Unlock()

	for _, v := range fired {
		e.emit(v)
	}
}

// appendLocked records a violation and decays the score. Callers hold
// e.mu.
func (e *Engine) appendLocked(kind domain.ViolationKind, sev domain.Severity, message string) domain.Violation {
	v := domain.Violation{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: sev,
		Message:  message,
		At:       e.now(),
	}
	e.violations = append(e.violations, v)
	e.score = e.score.Apply(sev)
	return v
}

func (e *Engine) emit(v domain.Violation) {
	e.log.Warn().Str("kind", string(v.Kind)).Str("severity", string(v.Severity)).
		Int("score", int(e.TrustScore())).Msg(v.Message)
	if e.notify != nil {
		e.notify(v)
	}
}
