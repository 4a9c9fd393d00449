// Package keytable holds the immutable key-to-text table that the matcher
// consults.
//
// A Table is produced once by a Builder and is read-only afterwards. Rows are
// kept sorted by key so prefix and wildcard queries become a binary-searched
// contiguous range instead of a scan over every entry. Because nothing mutates
// a Table after Build, one instance can be shared by any number of sessions
// without locking.
package keytable

import (
	"iter"
	"slices"
	"sort"
	"strings"
)

// Wildcard sentinels. They are never members of a table alphabet.
const (
	AnyOne  byte = '?'
	AnyRest byte = '*'
)

// IsWildcard reports whether c is one of the wildcard sentinels.
func IsWildcard(c byte) bool {
	return c == AnyOne || c == AnyRest
}

// Entry is one row of the table.
type Entry struct {
	Key       string
	Fragments []string
}

// Table is an immutable, key-sorted mapping from short keys to one or more
// output fragments.
type Table struct {
	name      string
	keys      []string
	values    [][]string
	alphabet  [256]bool
	keynames  map[byte]string
	maxKeyLen int
}

// Name returns the table name given to the builder.
func (t *Table) Name() string {
	return t.name
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	return len(t.keys)
}

// MaxKeyLength returns the length of the longest stored key.
func (t *Table) MaxKeyLength() int {
	return t.maxKeyLen
}

// IsValidKey reports whether c belongs to the input alphabet.
func (t *Table) IsValidKey(c byte) bool {
	return t.alphabet[c]
}

// Alphabet returns the input alphabet in ascending byte order.
func (t *Table) Alphabet() []byte {
	var out []byte
	for c := 0; c < len(t.alphabet); c++ {
		if t.alphabet[c] {
			out = append(out, byte(c))
		}
	}
	return out
}

// Keyname returns the display name declared for an input key, if any.
func (t *Table) Keyname(c byte) (string, bool) {
	name, ok := t.keynames[c]
	return name, ok
}

// HasKeynames reports whether the table declared display names for its keys.
func (t *Table) HasKeynames() bool {
	return len(t.keynames) > 0
}

// LookupExact returns the fragments stored under key. The returned slice is
// a copy.
func (t *Table) LookupExact(key string) ([]string, bool) {
	i, found := slices.BinarySearch(t.keys, key)
	if !found {
		return nil, false
	}
	return slices.Clone(t.values[i]), true
}

// Range yields every entry whose key starts with prefix, in key order. The
// sequence is finite and can be re-run; an empty prefix yields the whole
// table. Yielded fragment slices are shared with the table and must not be
// modified.
func (t *Table) Range(prefix string) iter.Seq2[string, []string] {
	lo, hi := t.bounds(prefix)
	return func(yield func(string, []string) bool) {
		for i := lo; i < hi; i++ {
			if !yield(t.keys[i], t.values[i]) {
				return
			}
		}
	}
}

// RangeIndex is like Range but also yields the table position of every row,
// which the matcher reports as candidate rank.
func (t *Table) RangeIndex(prefix string) iter.Seq2[int, Entry] {
	lo, hi := t.bounds(prefix)
	return func(yield func(int, Entry) bool) {
		for i := lo; i < hi; i++ {
			if !yield(i, Entry{Key: t.keys[i], Fragments: t.values[i]}) {
				return
			}
		}
	}
}

// CountPrefix returns how many keys start with prefix.
func (t *Table) CountPrefix(prefix string) int {
	lo, hi := t.bounds(prefix)
	return hi - lo
}

// Entries yields a copy of every row in table order.
func (t *Table) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i, k := range t.keys {
			if !yield(Entry{Key: k, Fragments: slices.Clone(t.values[i])}) {
				return
			}
		}
	}
}

// Keynames returns a copy of the declared key display names.
func (t *Table) Keynames() map[byte]string {
	out := make(map[byte]string, len(t.keynames))
	for c, name := range t.keynames {
		out[c] = name
	}
	return out
}

// bounds returns the half-open index range of keys sharing prefix.
func (t *Table) bounds(prefix string) (int, int) {
	if prefix == "" {
		return 0, len(t.keys)
	}
	lo := sort.SearchStrings(t.keys, prefix)
	hi := lo + sort.Search(len(t.keys)-lo, func(i int) bool {
		return !strings.HasPrefix(t.keys[lo+i], prefix)
	})
	return lo, hi
}
