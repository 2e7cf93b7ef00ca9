package proctor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/domain"
)

const (
	frameW = 1000.0
	frameH = 600.0
)

// centeredFace is a straight-ahead face in the middle of the frame.
func centeredFace() Face {
	return faceAt(frameW / 2)
}

// faceAt builds a straight-ahead face whose center sits at x.
func faceAt(x float64) Face {
	return Face{
		Box:      Box{X: x - 100, Y: 200, Width: 200, Height: 200},
		LeftEye:  Point{X: x - 30, Y: 260},
		RightEye: Point{X: x + 30, Y: 260},
		NoseTip:  Point{X: x, Y: 290},
	}
}

// turnedFace keeps the center in-band but swings the nose far off the
// eye midpoint.
func turnedFace() Face {
	f := centeredFace()
	f.NoseTip.X = f.RightEye.X + 20
	return f
}

func frameWith(faces ...Face) Frame {
	return Frame{Width: frameW, Height: frameH, Faces: faces}
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return New(nil, "Ada Candidate", zerolog.Nop(), opts...)
}

func kinds(vs []domain.Violation) []domain.ViolationKind {
	out := make([]domain.ViolationKind, len(vs))
	for i, v := range vs {
		out[i] = v.Kind
	}
	return out
}

func TestNoFaceDebounce(t *testing.T) {
	e := newEngine(t)

	for i := 0; i < noFaceDebounce-1; i++ {
		e.classify(frameWith())
	}
	if got := e.Violations(); len(got) != 0 {
		t.Fatalf("violation fired before %d consecutive ticks: %v", noFaceDebounce, kinds(got))
	}
	if e.FaceState() != domain.FaceNone {
		t.Errorf("face state = %v, want %v", e.FaceState(), domain.FaceNone)
	}

	e.classify(frameWith())

	got := e.Violations()
	if len(got) != 1 || got[0].Kind != domain.ViolationNoFace {
		t.Fatalf("violations = %v, want one no_face", kinds(got))
	}
	if got[0].Severity != domain.SeverityHigh {
		t.Errorf("severity = %v, want high", got[0].Severity)
	}
	if e.TrustScore() != 95 {
		t.Errorf("score = %d, want 95", e.TrustScore())
	}

	// Counter reset: the next tick must not fire again.
	e.classify(frameWith())
	if len(e.Violations()) != 1 {
		t.Error("no_face fired again immediately after reset")
	}
}

func TestFaceSightingResetsNoFaceCounter(t *testing.T) {
	e := newEngine(t)

	for i := 0; i < noFaceDebounce-1; i++ {
		e.classify(frameWith())
	}
	e.classify(frameWith(centeredFace()))
	for i := 0; i < noFaceDebounce-1; i++ {
		e.classify(frameWith())
	}

	if got := e.Violations(); len(got) != 0 {
		t.Fatalf("counter survived a face sighting: %v", kinds(got))
	}
}

func TestMultipleFacesFireEveryTick(t *testing.T) {
	e := newEngine(t)

	for i := 0; i < 3; i++ {
		e.classify(frameWith(centeredFace(), faceAt(800)))
	}

	got := e.Violations()
	if len(got) != 3 {
		t.Fatalf("got %d violations, want 3", len(got))
	}
	for _, v := range got {
		if v.Kind != domain.ViolationMultipleFaces || v.Severity != domain.SeverityCritical {
			t.Errorf("violation = %v/%v, want multiple_faces/critical", v.Kind, v.Severity)
		}
	}
	if e.TrustScore() != 70 {
		t.Errorf("score = %d, want 70 after three critical deductions", e.TrustScore())
	}
	if e.FaceState() != domain.FaceMultiple {
		t.Errorf("face state = %v, want %v", e.FaceState(), domain.FaceMultiple)
	}
}

func TestLookingAwayDebouncedToEveryThird(t *testing.T) {
	e := newEngine(t)

	for i := 0; i < 7; i++ {
		e.classify(frameWith(turnedFace()))
	}

	var lookAways int
	for _, v := range e.Violations() {
		if v.Kind == domain.ViolationLookingAway {
			lookAways++
			if v.Severity != domain.SeverityMedium {
				t.Errorf("severity = %v, want medium", v.Severity)
			}
		}
	}
	// Ticks 3 and 6 of the consecutive streak fire.
	if lookAways != 2 {
		t.Fatalf("got %d looking_away violations over 7 ticks, want 2", lookAways)
	}
	if e.FaceState() != domain.FaceLookingAway {
		t.Errorf("face state = %v, want %v", e.FaceState(), domain.FaceLookingAway)
	}
}

func TestLookAwayStreakResetsOnOkTick(t *testing.T) {
	e := newEngine(t)

	e.classify(frameWith(turnedFace()))
	e.classify(frameWith(turnedFace()))
	e.classify(frameWith(centeredFace()))
	e.classify(frameWith(turnedFace()))
	e.classify(frameWith(turnedFace()))

	for _, v := range e.Violations() {
		if v.Kind == domain.ViolationLookingAway {
			t.Fatal("looking_away fired without three consecutive ticks")
		}
	}
}

func TestOffCenterFaceIsLookingAway(t *testing.T) {
	e := newEngine(t)

	// Inside the band: no streak.
	e.classify(frameWith(faceAt(frameW * 0.5)))
	if e.FaceState() != domain.FaceOk {
		t.Fatalf("face state = %v, want %v", e.FaceState(), domain.FaceOk)
	}

	// Outside the 15-85% band.
	e.classify(frameWith(faceAt(frameW * 0.9)))
	if e.FaceState() != domain.FaceLookingAway {
		t.Errorf("face state = %v, want %v", e.FaceState(), domain.FaceLookingAway)
	}
}

func TestSuddenMovementBetweenConsecutiveTicks(t *testing.T) {
	e := newEngine(t)

	e.classify(frameWith(faceAt(300)))
	e.classify(frameWith(faceAt(600))) // 30% of frame width

	got := e.Violations()
	if len(got) != 1 || got[0].Kind != domain.ViolationSuddenMovement {
		t.Fatalf("violations = %v, want one sudden_movement", kinds(got))
	}
	if got[0].Severity != domain.SeverityLow {
		t.Errorf("severity = %v, want low", got[0].Severity)
	}

	// Small follow-up drift stays quiet.
	e.classify(frameWith(faceAt(650)))
	if len(e.Violations()) != 1 {
		t.Error("small movement fired a violation")
	}
}

func TestFirstTickHasNoMovementBaseline(t *testing.T) {
	e := newEngine(t)

	e.classify(frameWith(faceAt(200)))

	if got := e.Violations(); len(got) != 0 {
		t.Fatalf("violations on first sighting: %v", kinds(got))
	}
}

func TestMovementBaselineResetsOnFaceLoss(t *testing.T) {
	e := newEngine(t)

	e.classify(frameWith(faceAt(300)))
	e.classify(frameWith())
	e.classify(frameWith(faceAt(700)))

	for _, v := range e.Violations() {
		if v.Kind == domain.ViolationSuddenMovement {
			t.Fatal("movement compared against a centroid from before the face was lost")
		}
	}

	// Same across a multiple-faces tick: the single-face track restarts.
	e.classify(frameWith(centeredFace(), faceAt(800)))
	e.classify(frameWith(faceAt(200)))
	for _, v := range e.Violations() {
		if v.Kind == domain.ViolationSuddenMovement {
			t.Fatal("movement fired on the first single-face tick after multiple faces")
		}
	}
}

func TestRecordIngestsExternalViolations(t *testing.T) {
	var notified []domain.Violation
	e := newEngine(t, WithNotify(func(v domain.Violation) { notified = append(notified, v) }))

	e.Record(domain.ViolationTabSwitch, domain.SeverityHigh, "switched away from the interview tab")

	got := e.Violations()
	if len(got) != 1 || got[0].Kind != domain.ViolationTabSwitch {
		t.Fatalf("violations = %v, want one tab_switch", kinds(got))
	}
	if e.TrustScore() != 95 {
		t.Errorf("score = %d, want 95", e.TrustScore())
	}
	if len(notified) != 1 {
		t.Errorf("notify called %d times, want 1", len(notified))
	}
}

func TestScoreNeverRecovers(t *testing.T) {
	e := newEngine(t)

	for i := 0; i < 3; i++ {
		e.classify(frameWith(centeredFace(), faceAt(800)))
	}
	before := e.TrustScore()

	for i := 0; i < 20; i++ {
		e.classify(frameWith(centeredFace()))
	}

	if e.TrustScore() != before {
		t.Errorf("score changed from %d to %d on clean ticks", before, e.TrustScore())
	}
}

type blockingDetector struct {
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (d *blockingDetector) Detect(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	select {
	case <-d.release:
	case <-ctx.Done():
	}
	return frameWith(centeredFace()), nil
}

func (d *blockingDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	det := &blockingDetector{release: make(chan struct{})}
	e := New(det, "Ada Candidate", zerolog.Nop())

	ctx := context.Background()
	e.tick(ctx)

	deadline := time.Now().Add(time.Second)
	for det.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("detector never invoked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Detection still in flight: further ticks are dropped.
	e.tick(ctx)
	e.tick(ctx)
	time.Sleep(50 * time.Millisecond)
	if det.callCount() != 1 {
		t.Fatalf("detector invoked %d times while in flight, want 1", det.callCount())
	}

	close(det.release)
}

func TestSnapshotIsReadOnly(t *testing.T) {
	fixed := time.Date(2026, time.March, 9, 10, 30, 0, 0, time.UTC)
	e := newEngine(t, WithClock(func() time.Time { return fixed }))
	e.classify(frameWith(centeredFace(), faceAt(800)))

	first := e.Snapshot()
	second := e.Snapshot()

	if first.Export() != second.Export() {
		t.Fatal("back-to-back exports differ without new violations")
	}
	if len(e.Violations()) != 1 {
		t.Error("snapshot mutated the log")
	}

	// Mutating the returned slice must not leak back.
	first.Violations[0].Message = "tampered"
	if e.Violations()[0].Message == "tampered" {
		t.Error("snapshot shares backing storage with the engine")
	}
}
