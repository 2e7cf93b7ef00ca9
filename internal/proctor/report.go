package proctor

import (
	"fmt"
	"strings"
	"time"

	"github.com/hiredesk/interview/internal/domain"
)

const reportRule = "================================================================"

// Report is an immutable snapshot of the engine's state. Taking one
// never mutates the engine, so two exports without new violations in
// between render identically.
type Report struct {
	Candidate  string
	Date       time.Time
	Score      domain.TrustScore
	Verdict    domain.Verdict
	Violations []domain.Violation
}

// Snapshot captures the current report state.
func (e *Engine) Snapshot() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	violations := make([]domain.Violation, len(e.violations))
	copy(violations, e.violations)
	return Report{
		Candidate:  e.candidate,
		Date:       e.now(),
		Score:      e.score,
		Verdict:    e.score.Verdict(),
		Violations: violations,
	}
}

// CountByKind tallies the log per violation kind.
func (r Report) CountByKind(kind domain.ViolationKind) int {
	n := 0
	for _, v := range r.Violations {
		if v.Kind == kind {
			n++
		}
	}
	return n
}

func (r Report) countBySeverity(sev domain.Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

// Export renders the plain-text proctoring report artifact.
func (r Report) Export() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n  HIREDESK INTERVIEW PROCTORING REPORT\n%s\n", reportRule, reportRule)
	fmt.Fprintf(&b, "Candidate:    %s\n", r.Candidate)
	fmt.Fprintf(&b, "Date:         %s\n", r.Date.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&b, "Trust Score:  %d%%\n", int(r.Score))
	fmt.Fprintf(&b, "%s\n\n", reportRule)

	fmt.Fprintf(&b, "SUMMARY\n-------\n")
	fmt.Fprintf(&b, "Total Violations:      %d\n", len(r.Violations))
	fmt.Fprintf(&b, "Tab Switches:          %d\n", r.CountByKind(domain.ViolationTabSwitch))
	fmt.Fprintf(&b, "No Face Detected:      %d times\n", r.CountByKind(domain.ViolationNoFace))
	fmt.Fprintf(&b, "Multiple Faces:        %d times\n", r.CountByKind(domain.ViolationMultipleFaces))
	fmt.Fprintf(&b, "Looking Away:          %d times\n", r.CountByKind(domain.ViolationLookingAway))
	fmt.Fprintf(&b, "Critical Violations:   %d\n", r.countBySeverity(domain.SeverityCritical))
	fmt.Fprintf(&b, "High Violations:       %d\n", r.countBySeverity(domain.SeverityHigh))
	fmt.Fprintf(&b, "\nVERDICT: %s\n%s\n\n", r.Verdict, reportRule)

	if len(r.Violations) == 0 {
		b.WriteString("No violations recorded.\n")
	} else {
		fmt.Fprintf(&b, "DETAILED VIOLATIONS LOG\n%s\n\n", strings.Repeat("-", 50))
		for i, v := range r.Violations {
			fmt.Fprintf(&b, "%d. [%s] [%s] %s\n   %s\n\n",
				i+1, v.At.Format("15:04:05"), strings.ToUpper(string(v.Severity)),
				strings.ToUpper(string(v.Kind)), v.Message)
		}
	}

	fmt.Fprintf(&b, "%s\n  End of Proctoring Report\n  Generated by HireDesk Interview Platform\n%s\n", reportRule, reportRule)
	return b.String()
}
