package domain

import "time"

// Severity grades a violation. The deduction table drives the trust
// score; unknown severities deduct 2 so a malformed record still
// registers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Deduction() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 5
	case SeverityCritical:
		return 10
	default:
		return 2
	}
}

// ViolationKind names what was observed.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "tab_switch"
	ViolationFullscreenExit ViolationKind = "fullscreen_exit"
	ViolationNoFace         ViolationKind = "no_face"
	ViolationMultipleFaces  ViolationKind = "multiple_faces"
	ViolationLookingAway    ViolationKind = "looking_away"
	ViolationSuddenMovement ViolationKind = "sudden_movement"
)

// Violation is one append-only record. Records are never deleted
// within a session; the proctor keeps them for the final report.
type Violation struct {
	ID       string
	Kind     ViolationKind
	Severity Severity
	Message  string
	At       time.Time
}

// TrustScore starts at 100 and only ever decreases within a session.
type TrustScore int

const TrustScoreStart TrustScore = 100

// Apply returns the score after deducting for sev, floored at zero.
func (t TrustScore) Apply(sev Severity) TrustScore {
	next := int(t) - sev.Deduction()
	if next < 0 {
		next = 0
	}
	return TrustScore(next)
}

// Verdict is the report-level reading of a trust score.
type Verdict string

const (
	VerdictTrusted    Verdict = "TRUSTED"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictFlagged    Verdict = "FLAGGED FOR REVIEW"
)

func (t TrustScore) Verdict() Verdict {
	switch {
	case t >= 80:
		return VerdictTrusted
	case t >= 50:
		return VerdictSuspicious
	default:
		return VerdictFlagged
	}
}

// FaceState is the per-tick classification of the proctored stream.
type FaceState string

const (
	FaceDetecting   FaceState = "detecting"
	FaceOk          FaceState = "ok"
	FaceNone        FaceState = "no_face"
	FaceMultiple    FaceState = "multiple_faces"
	FaceLookingAway FaceState = "looking_away"
)
