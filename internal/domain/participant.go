package domain

import "errors"

const MaxNameLen = 36

var (
	ErrNameEmpty   = errors.New("participant name empty")
	ErrNameTooLong = errors.New("participant name too long")
)

// Participant is the local identity a session runs under. The display
// name travels in Identity relay messages; Admin gates policy control
// and decides who gets proctored.
type Participant struct {
	Name  string
	Admin bool
}

// NewParticipant avoids raw literals at call sites and keeps the name
// bounds in one place.
func NewParticipant(name string, admin bool) (Participant, error) {
	if len(name) == 0 {
		return Participant{}, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return Participant{}, ErrNameTooLong
	}
	return Participant{Name: name, Admin: admin}, nil
}
