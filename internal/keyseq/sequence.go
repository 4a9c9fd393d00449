// Package keyseq accumulates validated keystrokes for one composition.
//
// A Sequence borrows a shared keytable.Table for validation and composition
// and owns only its small bounded buffer. It is owned by a single input
// session and does no locking; callers serialize access.
package keyseq

import (
	"errors"
	"fmt"

	"cinmatch/internal/keytable"
)

var (
	// ErrInvalidKey is returned when a byte is neither in the table alphabet
	// nor a wildcard sentinel.
	ErrInvalidKey = errors.New("key not in table alphabet")

	// ErrSequenceFull is returned when the buffer is at its bound.
	ErrSequenceFull = errors.New("key sequence is full")

	// ErrWildcardAfterStar is returned for any key following '*', which must
	// stay the final position.
	ErrWildcardAfterStar = errors.New("no key may follow '*'")

	// ErrComposeWildcard is returned by Compose for sequences holding
	// wildcards; those are resolved by the matcher instead.
	ErrComposeWildcard = errors.New("cannot compose a sequence with wildcards")
)

// KeyError reports which byte of a parsed pattern was rejected.
type KeyError struct {
	Pos  int
	Char byte
	Err  error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %q at %d: %v", e.Char, e.Pos, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// Option configures a Sequence.
type Option func(*Sequence)

// WithMaxLength overrides the bound derived from the table. Values below 1
// are ignored.
func WithMaxLength(n int) Option {
	return func(s *Sequence) {
		if n > 0 {
			s.max = n
		}
	}
}

// Sequence is a bounded buffer of accepted keys.
type Sequence struct {
	table *keytable.Table
	buf   []byte
	max   int
}

// New returns an empty sequence validated against t. The bound defaults to
// the table's longest key.
func New(t *keytable.Table, opts ...Option) *Sequence {
	s := &Sequence{table: t, max: t.MaxKeyLength()}
	for _, opt := range opts {
		opt(s)
	}
	s.buf = make([]byte, 0, s.max)
	return s
}

// Table returns the table the sequence validates against.
func (s *Sequence) Table() *keytable.Table {
	return s.table
}

// Max returns the length bound.
func (s *Sequence) Max() int {
	return s.max
}

// Add appends c and reports whether it was accepted. A rejected key leaves
// the sequence untouched.
func (s *Sequence) Add(c byte) bool {
	return s.Append(c) == nil
}

// Append is Add with the rejection reason.
func (s *Sequence) Append(c byte) error {
	if len(s.buf) >= s.max {
		return ErrSequenceFull
	}
	if !keytable.IsWildcard(c) && !s.table.IsValidKey(c) {
		return ErrInvalidKey
	}
	if n := len(s.buf); n > 0 && s.buf[n-1] == keytable.AnyRest {
		return ErrWildcardAfterStar
	}
	s.buf = append(s.buf, c)
	return nil
}

// Remove drops the last key and reports whether there was one.
func (s *Sequence) Remove() bool {
	if len(s.buf) == 0 {
		return false
	}
	s.buf = s.buf[:len(s.buf)-1]
	return true
}

// Len returns the number of accepted keys.
func (s *Sequence) Len() int {
	return len(s.buf)
}

// IsEmpty reports whether no key has been accepted.
func (s *Sequence) IsEmpty() bool {
	return len(s.buf) == 0
}

// IsFull reports whether the bound has been reached.
func (s *Sequence) IsFull() bool {
	return len(s.buf) >= s.max
}

// HasWildcardCharacter reports whether any buffered key is '?' or '*'.
func (s *Sequence) HasWildcardCharacter() bool {
	for _, c := range s.buf {
		if keytable.IsWildcard(c) {
			return true
		}
	}
	return false
}

// HasOnlyWildcardCharacter reports whether the sequence is non-empty and
// every buffered key is '?' or '*'. An empty sequence reports false.
func (s *Sequence) HasOnlyWildcardCharacter() bool {
	if len(s.buf) == 0 {
		return false
	}
	for _, c := range s.buf {
		if !keytable.IsWildcard(c) {
			return false
		}
	}
	return true
}

// Compose appends the display text of every buffered key to dst. A key's
// text is its declared keyname, or else the fragments stored under the
// single-key entry, in table order. Keys with neither contribute nothing.
func (s *Sequence) Compose(dst []byte) ([]byte, error) {
	if s.HasWildcardCharacter() {
		return dst, ErrComposeWildcard
	}
	for _, c := range s.buf {
		if name, ok := s.table.Keyname(c); ok {
			dst = append(dst, name...)
			continue
		}
		frags, _ := s.table.LookupExact(string(c))
		for _, f := range frags {
			dst = append(dst, f...)
		}
	}
	return dst, nil
}

// Buffer returns a copy of the accepted keys.
func (s *Sequence) Buffer() []byte {
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// String returns the accepted keys as a string.
func (s *Sequence) String() string {
	return string(s.buf)
}

// Pattern returns the tagged form of the buffer for the matcher.
func (s *Sequence) Pattern() Pattern {
	p := make(Pattern, len(s.buf))
	for i, c := range s.buf {
		p[i] = PositionOf(c)
	}
	return p
}

// Clear empties the sequence for reuse.
func (s *Sequence) Clear() {
	s.buf = s.buf[:0]
}
