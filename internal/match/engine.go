// Package match resolves key patterns into candidate lists.
//
// Every query shape runs the same pass: take the range of table rows sharing
// the pattern's literal prefix, then keep the rows the pattern accepts
// position by position. Exact queries are the degenerate case where the
// prefix is the whole key and the range is a single row.
package match

import (
	"errors"
	"slices"

	"cinmatch/internal/keyseq"
	"cinmatch/internal/keytable"
)

// ErrEmptyQuery is returned for patterns with no literal key, which would
// otherwise select the entire table.
var ErrEmptyQuery = errors.New("query has no literal key")

// Candidate is one resolution of a pattern. Fragments are copied out of the
// table.
type Candidate struct {
	Key       string   `json:"key" yaml:"key"`
	Fragments []string `json:"fragments" yaml:"fragments"`
	// Rank is the row position in the table; lower ranks sort first.
	Rank int `json:"rank" yaml:"rank"`
}

// Options bounds a lookup.
type Options struct {
	// MaxCandidates caps the result length. Zero means no cap.
	MaxCandidates int
}

// Result carries candidates plus whether the cap cut the list short.
type Result struct {
	Candidates []Candidate
	Truncated  bool
}

// Engine runs lookups. It holds only options and is safe for concurrent use.
type Engine struct {
	opts Options
}

// New returns an Engine with the given options.
func New(opts Options) *Engine {
	if opts.MaxCandidates < 0 {
		opts.MaxCandidates = 0
	}
	return &Engine{opts: opts}
}

// Options returns the engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// Lookup returns the candidates for p in table order.
func (e *Engine) Lookup(p keyseq.Pattern, t *keytable.Table) ([]Candidate, error) {
	res, err := e.Query(p, t)
	return res.Candidates, err
}

// LookupSequence is Lookup on the current state of seq.
func (e *Engine) LookupSequence(seq *keyseq.Sequence) ([]Candidate, error) {
	return e.Lookup(seq.Pattern(), seq.Table())
}

// Query is Lookup that also reports truncation.
func (e *Engine) Query(p keyseq.Pattern, t *keytable.Table) (Result, error) {
	if len(p) == 0 || p.OnlyWildcard() {
		return Result{}, ErrEmptyQuery
	}

	if !p.HasWildcard() {
		return exact(p.String(), t), nil
	}

	var res Result
	for rank, entry := range t.RangeIndex(p.LiteralPrefix()) {
		if !p.Matches(entry.Key) {
			continue
		}
		if e.opts.MaxCandidates > 0 && len(res.Candidates) == e.opts.MaxCandidates {
			res.Truncated = true
			break
		}
		res.Candidates = append(res.Candidates, Candidate{
			Key:       entry.Key,
			Fragments: slices.Clone(entry.Fragments),
			Rank:      rank,
		})
	}
	return res, nil
}

func exact(key string, t *keytable.Table) Result {
	for rank, entry := range t.RangeIndex(key) {
		if entry.Key != key {
			break
		}
		return Result{Candidates: []Candidate{{
			Key:       key,
			Fragments: slices.Clone(entry.Fragments),
			Rank:      rank,
		}}}
	}
	return Result{}
}

// Expand flattens candidates into display fragments. A fragment stored under
// several matched keys is kept at its first position only.
func Expand(cands []Candidate) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range cands {
		for _, f := range c.Fragments {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
