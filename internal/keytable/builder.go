package keytable

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidTableKey is wrapped by BuildError for keys that cannot be stored.
	ErrInvalidTableKey = errors.New("invalid table key")

	// ErrEmptyTable is returned by Build when no entry has a fragment.
	ErrEmptyTable = errors.New("table has no entries")
)

// BuildError describes a row rejected by Build.
type BuildError struct {
	Row    int
	Key    string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("keytable: row %d key %q: %s", e.Row, e.Key, e.Reason)
}

func (e *BuildError) Unwrap() error {
	return ErrInvalidTableKey
}

type row struct {
	key       string
	fragments []string
}

// Builder accumulates rows for a Table. It is not safe for concurrent use.
type Builder struct {
	name     string
	rows     []row
	keynames map[byte]string
	explicit bool
}

// NewBuilder returns an empty builder for a table called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Keyname declares c as part of the input alphabet with a display name.
// Declaring any keyname makes the alphabet explicit: keys using other bytes
// are rejected by Build.
func (b *Builder) Keyname(c byte, display string) *Builder {
	if b.keynames == nil {
		b.keynames = make(map[byte]string)
	}
	b.keynames[c] = norm.NFC.String(display)
	b.explicit = true
	return b
}

// Alphabet declares an explicit input alphabet without display names.
func (b *Builder) Alphabet(chars string) *Builder {
	if b.keynames == nil {
		b.keynames = make(map[byte]string)
	}
	for i := 0; i < len(chars); i++ {
		if _, ok := b.keynames[chars[i]]; !ok {
			b.keynames[chars[i]] = ""
		}
	}
	b.explicit = true
	return b
}

// Add appends a row. Rows with the same key are merged by Build in the order
// they were added.
func (b *Builder) Add(key string, fragments ...string) *Builder {
	b.rows = append(b.rows, row{key: key, fragments: slices.Clone(fragments)})
	return b
}

// Build validates the accumulated rows and returns the immutable table.
func (b *Builder) Build() (*Table, error) {
	t := &Table{name: b.name}

	if b.explicit {
		for c, display := range b.keynames {
			if IsWildcard(c) {
				return nil, &BuildError{Row: -1, Key: string(c), Reason: "wildcard sentinel cannot be an input key"}
			}
			t.alphabet[c] = true
			if display != "" {
				if t.keynames == nil {
					t.keynames = make(map[byte]string)
				}
				t.keynames[c] = display
			}
		}
	}

	merged := make(map[string]int, len(b.rows))
	var rows []row
	for i, r := range b.rows {
		if err := b.checkKey(i, r.key); err != nil {
			return nil, err
		}
		at, seen := merged[r.key]
		if !seen {
			at = len(rows)
			merged[r.key] = at
			rows = append(rows, row{key: r.key})
		}
		for _, f := range r.fragments {
			f = norm.NFC.String(strings.TrimSpace(f))
			if f == "" || slices.Contains(rows[at].fragments, f) {
				continue
			}
			rows[at].fragments = append(rows[at].fragments, f)
		}
	}

	rows = slices.DeleteFunc(rows, func(r row) bool { return len(r.fragments) == 0 })
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		return strings.Compare(a.key, b.key)
	})

	t.keys = make([]string, len(rows))
	t.values = make([][]string, len(rows))
	for i, r := range rows {
		t.keys[i] = r.key
		t.values[i] = r.fragments
		if len(r.key) > t.maxKeyLen {
			t.maxKeyLen = len(r.key)
		}
		if !b.explicit {
			for j := 0; j < len(r.key); j++ {
				t.alphabet[r.key[j]] = true
			}
		}
	}

	return t, nil
}

func (b *Builder) checkKey(i int, key string) error {
	if key == "" {
		return &BuildError{Row: i, Key: key, Reason: "empty key"}
	}
	for j := 0; j < len(key); j++ {
		c := key[j]
		switch {
		case IsWildcard(c):
			return &BuildError{Row: i, Key: key, Reason: fmt.Sprintf("wildcard %q in key", c)}
		case c <= ' ' || c >= 0x7f:
			return &BuildError{Row: i, Key: key, Reason: fmt.Sprintf("byte %#x is not a printable key", c)}
		case b.explicit:
			if _, ok := b.keynames[c]; !ok {
				return &BuildError{Row: i, Key: key, Reason: fmt.Sprintf("%q is outside the declared alphabet", c)}
			}
		}
	}
	return nil
}
