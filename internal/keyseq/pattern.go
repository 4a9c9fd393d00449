package keyseq

import (
	"strings"

	"cinmatch/internal/keytable"
)

// Kind tags what a pattern position accepts.
type Kind uint8

const (
	// Literal matches exactly Position.Char.
	Literal Kind = iota
	// AnyOne matches any single key byte.
	AnyOne
	// AnyRest matches the remainder of the key, including nothing.
	AnyRest
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case AnyOne:
		return "any-one"
	case AnyRest:
		return "any-rest"
	default:
		return "unknown"
	}
}

// Position is one slot of a Pattern.
type Position struct {
	Kind Kind
	Char byte
}

// PositionOf classifies a buffered byte.
func PositionOf(c byte) Position {
	switch c {
	case keytable.AnyOne:
		return Position{Kind: AnyOne, Char: c}
	case keytable.AnyRest:
		return Position{Kind: AnyRest, Char: c}
	default:
		return Position{Kind: Literal, Char: c}
	}
}

// Accepts reports whether the position matches key byte c. AnyRest accepts
// every byte.
func (p Position) Accepts(c byte) bool {
	return p.Kind != Literal || p.Char == c
}

// Pattern is a query shape derived from a key sequence. An AnyRest position,
// when present, is always the last one.
type Pattern []Position

// ParsePattern converts s into a Pattern, validating each byte against the
// table the same way Sequence.Append does.
func ParsePattern(s string, t *keytable.Table) (Pattern, error) {
	seq := New(t, WithMaxLength(len(s)))
	for i := 0; i < len(s); i++ {
		if err := seq.Append(s[i]); err != nil {
			return nil, &KeyError{Pos: i, Char: s[i], Err: err}
		}
	}
	return seq.Pattern(), nil
}

// Len returns the number of positions.
func (p Pattern) Len() int {
	return len(p)
}

// HasWildcard reports whether any position is a wildcard.
func (p Pattern) HasWildcard() bool {
	for _, pos := range p {
		if pos.Kind != Literal {
			return true
		}
	}
	return false
}

// OnlyWildcard reports whether the pattern is non-empty and carries no
// literal position.
func (p Pattern) OnlyWildcard() bool {
	if len(p) == 0 {
		return false
	}
	for _, pos := range p {
		if pos.Kind == Literal {
			return false
		}
	}
	return true
}

// OpenEnded reports whether the pattern ends with AnyRest.
func (p Pattern) OpenEnded() bool {
	return len(p) > 0 && p[len(p)-1].Kind == AnyRest
}

// LiteralPrefix returns the literal bytes before the first wildcard.
func (p Pattern) LiteralPrefix() string {
	var b strings.Builder
	for _, pos := range p {
		if pos.Kind != Literal {
			break
		}
		b.WriteByte(pos.Char)
	}
	return b.String()
}

// Matches reports whether key satisfies every position. Without a trailing
// AnyRest the key length must equal the pattern length; with one, the key
// must be at least as long as the positions before it.
func (p Pattern) Matches(key string) bool {
	fixed := p
	if p.OpenEnded() {
		fixed = p[:len(p)-1]
		if len(key) < len(fixed) {
			return false
		}
	} else if len(key) != len(p) {
		return false
	}
	for i, pos := range fixed {
		if !pos.Accepts(key[i]) {
			return false
		}
	}
	return true
}

// String renders the pattern back into its keystroke form.
func (p Pattern) String() string {
	b := make([]byte, len(p))
	for i, pos := range p {
		b[i] = pos.Char
	}
	return string(b)
}
