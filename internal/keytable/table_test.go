package keytable

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tab, err := NewBuilder("test").
		Add("abcd", "四").
		Add("ab", "二").
		Add("a", "一", "乙").
		Add("b", "不").
		Add("abc", "三").
		Add("ba", "八").
		Add("ac", "丙").
		Build()
	require.NoError(t, err)
	return tab
}

func collect(t *Table, prefix string) []string {
	var keys []string
	for k := range t.Range(prefix) {
		keys = append(keys, k)
	}
	return keys
}

func TestBuildSortsKeys(t *testing.T) {
	tab := newTestTable(t)

	assert.Equal(t, 7, tab.Len())
	assert.Equal(t, 4, tab.MaxKeyLength())
	assert.Equal(t, []string{"a", "ab", "abc", "abcd", "ac", "b", "ba"}, collect(tab, ""))
}

func TestLookupExact(t *testing.T) {
	tab := newTestTable(t)

	got, ok := tab.LookupExact("a")
	require.True(t, ok)
	assert.Equal(t, []string{"一", "乙"}, got)

	_, ok = tab.LookupExact("zz")
	assert.False(t, ok)

	_, ok = tab.LookupExact("")
	assert.False(t, ok)
}

func TestLookupExactReturnsCopy(t *testing.T) {
	tab := newTestTable(t)

	got, _ := tab.LookupExact("a")
	got[0] = "mutated"

	again, _ := tab.LookupExact("a")
	assert.Equal(t, "一", again[0])
}

func TestRangePrefix(t *testing.T) {
	tab := newTestTable(t)

	tests := []struct {
		prefix string
		want   []string
	}{
		{"a", []string{"a", "ab", "abc", "abcd", "ac"}},
		{"ab", []string{"ab", "abc", "abcd"}},
		{"abcd", []string{"abcd"}},
		{"b", []string{"b", "ba"}},
		{"c", nil},
		{"abcde", nil},
	}

	for _, tc := range tests {
		t.Run(tc.prefix, func(t *testing.T) {
			assert.Equal(t, tc.want, collect(tab, tc.prefix))
			assert.Equal(t, len(tc.want), tab.CountPrefix(tc.prefix))
		})
	}
}

func TestRangeIsRestartable(t *testing.T) {
	tab := newTestTable(t)
	seq := tab.Range("ab")

	var first, second []string
	for k := range seq {
		first = append(first, k)
	}
	for k := range seq {
		second = append(second, k)
	}
	assert.Equal(t, first, second)
}

func TestRangeEarlyStop(t *testing.T) {
	tab := newTestTable(t)

	var keys []string
	for k := range tab.Range("a") {
		keys = append(keys, k)
		if len(keys) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "ab"}, keys)
}

func TestRangeIndexReportsTablePosition(t *testing.T) {
	tab := newTestTable(t)

	var idx []int
	for i, e := range tab.RangeIndex("b") {
		idx = append(idx, i)
		assert.NotEmpty(t, e.Fragments)
	}
	assert.Equal(t, []int{5, 6}, idx)
}

func TestDerivedAlphabet(t *testing.T) {
	tab := newTestTable(t)

	assert.Equal(t, []byte("abcd"), tab.Alphabet())
	for _, c := range []byte("abcd") {
		assert.True(t, tab.IsValidKey(c), "%q should be valid", c)
	}
	for _, c := range []byte("ez?*1 ") {
		assert.False(t, tab.IsValidKey(c), "%q should be invalid", c)
	}
	assert.False(t, tab.HasKeynames())
}

func TestExplicitAlphabetWithKeynames(t *testing.T) {
	tab, err := NewBuilder("array").
		Keyname('a', "1-").
		Keyname('b', "5-").
		Keyname(',', "8v").
		Add("ab", "x").
		Build()
	require.NoError(t, err)

	assert.True(t, tab.IsValidKey(','))
	assert.True(t, tab.HasKeynames())
	name, ok := tab.Keyname(',')
	require.True(t, ok)
	assert.Equal(t, "8v", name)

	_, err = NewBuilder("array").Keyname('a', "1-").Add("az", "x").Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTableKey))
}

func TestAlphabetWithoutKeynames(t *testing.T) {
	tab, err := NewBuilder("plain").Alphabet("abc").Add("a", "x").Build()
	require.NoError(t, err)

	assert.True(t, tab.IsValidKey('c'))
	assert.False(t, tab.HasKeynames())
}

func TestBuildRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"question", "a?"},
		{"star", "*"},
		{"space", "a b"},
		{"high byte", "a\xe4"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuilder("bad").Add("ok", "x").Add(tc.key, "y").Build()
			require.Error(t, err)

			var be *BuildError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, 1, be.Row)
			assert.ErrorIs(t, err, ErrInvalidTableKey)
		})
	}
}

func TestBuildRejectsWildcardKeyname(t *testing.T) {
	_, err := NewBuilder("bad").Keyname('?', "q").Add("a", "x").Build()
	assert.ErrorIs(t, err, ErrInvalidTableKey)
}

func TestBuildMergesDuplicateKeys(t *testing.T) {
	tab, err := NewBuilder("dup").
		Add("ab", "甲", "乙").
		Add("cd", "丁").
		Add("ab", "乙", "丙").
		Build()
	require.NoError(t, err)

	got, ok := tab.LookupExact("ab")
	require.True(t, ok)
	assert.Equal(t, []string{"甲", "乙", "丙"}, got)
	assert.Equal(t, 2, tab.Len())
}

func TestBuildDropsEmptyFragments(t *testing.T) {
	tab, err := NewBuilder("empty").Add("a", "", "  ").Add("b", "x").Build()
	require.NoError(t, err)

	_, ok := tab.LookupExact("a")
	assert.False(t, ok)
	assert.Equal(t, 1, tab.Len())

	_, err = NewBuilder("none").Add("a", "").Build()
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestBuildNormalizesFragments(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	tab, err := NewBuilder("nfc").Add("e", "e\u0301", "\u00e9").Build()
	require.NoError(t, err)

	got, _ := tab.LookupExact("e")
	assert.Equal(t, []string{"\u00e9"}, got)
}

func TestEntriesCopy(t *testing.T) {
	tab := newTestTable(t)

	var n int
	for e := range tab.Entries() {
		e.Fragments[0] = "changed"
		n++
	}
	assert.Equal(t, tab.Len(), n)

	got, _ := tab.LookupExact("a")
	assert.Equal(t, "一", got[0])
}

func TestConcurrentReaders(t *testing.T) {
	tab := newTestTable(t)
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				_, _ = tab.LookupExact("abc")
				_ = collect(tab, "a")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func BenchmarkRangePrefix(b *testing.B) {
	tab := benchTable(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for range tab.Range("kq") {
		}
	}
}

func BenchmarkLookupExact(b *testing.B) {
	tab := benchTable(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tab.LookupExact("kqbx")
	}
}

func benchTable(b *testing.B) *Table {
	b.Helper()
	const letters = "abcdefghijklmnopqrstuvwxyz"
	bld := NewBuilder("bench")
	n := 0
	for _, c1 := range letters {
		for _, c2 := range letters {
			for _, c3 := range letters[:12] {
				for _, c4 := range letters[20:] {
					key := string([]rune{c1, c2, c3, c4})
					bld.Add(key, fmt.Sprintf("w%d", n))
					n++
				}
			}
		}
	}
	tab, err := bld.Build()
	if err != nil {
		b.Fatal(err)
	}
	return tab
}
