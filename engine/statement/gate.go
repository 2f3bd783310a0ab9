package statement

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Gate rejection errors.
var (
	ErrEmptyStatement = errors.New("statement is empty")
	ErrNoMarker       = errors.New("statement does not start with subject marker")
	ErrTooShort       = errors.New("statement too short")
	ErrTooLong        = errors.New("statement too long")
	ErrBannedToken    = errors.New("statement contains banned token")
)

// Gate is the format contract every candidate statement must satisfy.
type Gate struct {
	// Markers are accepted statement prefixes; the first one is the
	// canonical subject marker used by the composing templates.
	Markers []string
	MinLen  int // runes
	MaxLen  int // runes
	// Banned tokens may not appear as whole words.
	Banned []string
}

// SubjectMarker is the canonical subject every statement template opens with.
const SubjectMarker = "Users"

// DefaultGate returns the standard statement contract.
func DefaultGate() Gate {
	return Gate{
		Markers: []string{SubjectMarker, "People"},
		MinLen:  20,
		MaxLen:  240,
		Banned:  []string{"help", "please", "frustrated", "stupid", "urgent"},
	}
}

// Check validates a candidate statement against the gate.
func (g Gate) Check(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyStatement
	}

	marked := false
	for _, m := range g.Markers {
		if strings.HasPrefix(text, m+" ") || text == m {
			marked = true
			break
		}
	}
	if !marked {
		return fmt.Errorf("%w (want one of %v)", ErrNoMarker, g.Markers)
	}

	n := utf8.RuneCountInString(text)
	if g.MinLen > 0 && n < g.MinLen {
		return fmt.Errorf("%w (%d < %d)", ErrTooShort, n, g.MinLen)
	}
	if g.MaxLen > 0 && n > g.MaxLen {
		return fmt.Errorf("%w (%d > %d)", ErrTooLong, n, g.MaxLen)
	}

	lower := strings.ToLower(text)
	for _, banned := range g.Banned {
		for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
		}) {
			if tok == banned {
				return fmt.Errorf("%w: %q", ErrBannedToken, banned)
			}
		}
	}
	return nil
}
