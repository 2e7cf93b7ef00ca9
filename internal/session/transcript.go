package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hiredesk/interview/internal/domain"
)

const transcriptRule = "==========================================="

// TranscriptEntry is one final caption with its speaker and arrival
// time.
type TranscriptEntry struct {
	Speaker string
	Text    string
	At      time.Time
}

// Transcript accumulates final captions in arrival order. Interim
// captions never land here.
type Transcript struct {
	room domain.RoomID
	now  func() time.Time

	mu      sync.Mutex
	entries []TranscriptEntry
}

func NewTranscript(room domain.RoomID) *Transcript {
	return &Transcript{room: room, now: time.Now}
}

// SetClock overrides the timestamp source. Test hook.
func (t *Transcript) SetClock(now func() time.Time) { t.now = now }

func (t *Transcript) Add(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	t.entries = append(t.entries, TranscriptEntry{Speaker: speaker, Text: text, At: t.now()})
	t.mu.Unlock()
}

// Entries returns a copy of the accumulated entries.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Export renders the plain-text transcript artifact. Deterministic for
// a fixed entry list: stable header, chronological body, stable
// footer.
func (t *Transcript) Export() string {
	entries := t.Entries()

	speakers := make(map[string]struct{})
	for _, e := range entries {
		speakers[e.Speaker] = struct{}{}
	}
	names := make([]string, 0, len(speakers))
	for n := range speakers {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  Interview Transcript\n%s\n", transcriptRule, transcriptRule)
	fmt.Fprintf(&b, "Room:         %s\n", t.room)
	fmt.Fprintf(&b, "Entries:      %d\n", len(entries))
	fmt.Fprintf(&b, "Participants: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "%s\n\n", transcriptRule)

	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", e.At.Format("15:04:05"), e.Speaker, e.Text)
	}

	fmt.Fprintf(&b, "%s\n  End of Transcript\n%s\n", transcriptRule, transcriptRule)
	return b.String()
}
