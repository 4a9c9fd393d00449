// Package session drives a key table from keystrokes.
//
// An Engine owns at most one Session at a time. Each keystroke is validated
// into the session's key sequence, the matcher is rerun when the sequence
// changes, and candidates are paged for selection. Committed text is handed
// back to the caller and never kept beyond per-session counters.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"cinmatch/internal/config"
	"cinmatch/internal/keyseq"
	"cinmatch/internal/keytable"
	"cinmatch/internal/logging"
	"cinmatch/internal/match"
)

var (
	ErrNoSession       = errors.New("no active session")
	ErrSessionActive   = errors.New("session already active; call EndSession first")
	ErrNoCandidate     = errors.New("no candidate at that index")
	ErrNothingToCommit = errors.New("nothing to commit")
)

// KeyCode identifies keys that edit the session instead of adding to it.
type KeyCode uint8

const (
	CodeNone KeyCode = iota
	CodeBackspace
	CodeEscape
	CodeEnter
	CodeSpace
	CodePageUp
	CodePageDown
)

// Modifiers represents modifier key state.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModControl
	ModAlt
	ModMeta
)

// Key is one key event from the host.
type Key struct {
	// Code is set for editing keys. CodeNone means Char carries the key.
	Code KeyCode

	// Char is the character the key produces.
	Char rune

	// Modifiers indicates which modifier keys are held. Keys chorded with
	// Control, Alt or Meta are left to the host.
	Modifiers Modifiers
}

// NewKey creates a character key.
func NewKey(char rune) Key {
	return Key{Char: char}
}

// NewCodeKey creates an editing key.
func NewCodeKey(code KeyCode) Key {
	return Key{Code: code}
}

// SessionOptions configures a typing session.
type SessionOptions struct {
	// AppID identifies the application receiving text.
	AppID string

	// Context is optional caller-provided context.
	Context string
}

// Settings are the tunables an Engine reads from configuration.
type Settings struct {
	MaxLength     int
	MaxCandidates int
	PageSize      int
	AutoQuery     bool
	ClearOnReject bool
}

// SettingsFromConfig extracts engine settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxLength:     cfg.Sequence.MaxLength,
		MaxCandidates: cfg.Match.MaxCandidates,
		PageSize:      cfg.Match.PageSize,
		AutoQuery:     cfg.Session.AutoQuery,
		ClearOnReject: cfg.Session.ClearOnReject,
	}
}

// Session is an active typing session.
type Session struct {
	ID        string
	StartTime time.Time
	AppID     string
	Context   string

	seq        *keyseq.Sequence
	result     match.Result
	fragments  []string
	page       int
	queried    bool
	onlyWild   bool
	keystrokes int
	rejected   int
	lookups    int
	commits    int
	runes      int
}

// Update is the visible state after an event.
type Update struct {
	// Keys is the current key sequence.
	Keys string

	// Rejected is set when the key was refused, with the reason.
	Rejected error

	// Ignored is set for chorded keys the engine leaves to the host.
	Ignored bool

	// Candidates holds the fragments on the current page.
	Candidates []string

	// Page is the zero-based page index and Pages the page count.
	Page  int
	Pages int

	// Total is the number of fragments across all pages.
	Total int

	// Truncated is set when the matcher stopped at its limit.
	Truncated bool

	// WildcardOnly is set when the sequence holds only wildcards, which
	// never produces candidates.
	WildcardOnly bool

	// Committed is the text produced by this event, if any.
	Committed string
}

// Summary contains the counters of a finished session.
type Summary struct {
	SessionID      string    `json:"session_id" yaml:"session_id"`
	TableName      string    `json:"table_name" yaml:"table_name"`
	AppID          string    `json:"app_id" yaml:"app_id"`
	StartTime      time.Time `json:"start_time" yaml:"start_time"`
	EndTime        time.Time `json:"end_time" yaml:"end_time"`
	Keystrokes     int       `json:"keystrokes" yaml:"keystrokes"`
	Rejected       int       `json:"rejected" yaml:"rejected"`
	Lookups        int       `json:"lookups" yaml:"lookups"`
	Commits        int       `json:"commits" yaml:"commits"`
	CommittedRunes int       `json:"committed_runes" yaml:"committed_runes"`
}

// Duration returns how long the session was open.
func (s *Summary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Engine drives one table. It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	table    *keytable.Table
	matcher  *match.Engine
	settings Settings
	logger   *logging.Logger
	session  *Session
}

// NewEngine creates an engine over table configured from cfg.
func NewEngine(table *keytable.Table, cfg *config.Config, logger *logging.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		table:  table,
		logger: logger.WithComponent("session"),
	}
	e.apply(SettingsFromConfig(cfg))
	return e
}

// Table returns the table the engine drives.
func (e *Engine) Table() *keytable.Table {
	return e.table
}

// Reconfigure applies new settings. Match limits take effect on the next
// lookup and the sequence bound on the next session. A new page size
// applies at once and keeps the current page within range. The logging
// section is not read here; use SetLogger to swap the logger.
func (e *Engine) Reconfigure(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(SettingsFromConfig(cfg))
	if e.session != nil {
		e.session.page = min(e.session.page, max(e.pages()-1, 0))
	}
	e.logger.Info("settings reloaded",
		"max_candidates", e.settings.MaxCandidates,
		"page_size", e.settings.PageSize,
		"auto_query", e.settings.AutoQuery)
}

func (e *Engine) apply(s Settings) {
	if s.PageSize < 1 {
		s.PageSize = 1
	}
	e.settings = s
	e.matcher = match.New(match.Options{MaxCandidates: s.MaxCandidates})
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(logger *logging.Logger) {
	if logger == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger.WithComponent("session")
}

// Settings returns the active settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// StartSession begins a new typing session.
func (e *Engine) StartSession(opts SessionOptions) error {
	if opts.AppID == "" {
		opts.AppID = "unknown"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return ErrSessionActive
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return fmt.Errorf("failed to generate session ID: %w", err)
	}

	var seqOpts []keyseq.Option
	if e.settings.MaxLength > 0 {
		seqOpts = append(seqOpts, keyseq.WithMaxLength(e.settings.MaxLength))
	}

	e.session = &Session{
		ID:        sessionID,
		StartTime: time.Now(),
		AppID:     opts.AppID,
		Context:   opts.Context,
		seq:       keyseq.New(e.table, seqOpts...),
	}

	e.logger.Debug("session started", "session_id", sessionID, "app_id", opts.AppID, "table", e.table.Name())
	return nil
}

// HasActiveSession returns true if a session is currently active.
func (e *Engine) HasActiveSession() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session != nil
}

// OnKeyDown processes a key press. A refused key is reported in
// Update.Rejected; the returned error is reserved for engine misuse.
func (e *Engine) OnKeyDown(key Key) (Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return Update{}, ErrNoSession
	}

	if key.Modifiers&(ModControl|ModAlt|ModMeta) != 0 {
		u := e.view()
		u.Ignored = true
		return u, nil
	}

	switch key.Code {
	case CodeBackspace:
		e.backspace()
		return e.view(), nil
	case CodeEscape:
		e.reset()
		return e.view(), nil
	case CodeEnter, CodeSpace:
		text, err := e.commitFirst()
		if err != nil && !errors.Is(err, ErrNothingToCommit) {
			return Update{}, err
		}
		u := e.view()
		u.Committed = text
		return u, nil
	case CodePageDown:
		e.turnPage(1)
		return e.view(), nil
	case CodePageUp:
		e.turnPage(-1)
		return e.view(), nil
	}

	s.keystrokes++

	if key.Char <= 0 || key.Char >= utf8.RuneSelf {
		return e.reject(key.Char, keyseq.ErrInvalidKey), nil
	}
	if err := s.seq.Append(byte(key.Char)); err != nil {
		return e.reject(key.Char, err), nil
	}

	if e.settings.AutoQuery || s.seq.IsFull() || s.seq.HasWildcardCharacter() {
		e.refresh()
	} else {
		e.clearResult()
	}
	return e.view(), nil
}

func (e *Engine) reject(c rune, err error) Update {
	s := e.session
	s.rejected++
	e.logger.Debug("key rejected", "keys", s.seq.String(), "char", string(c), "error", err)
	if e.settings.ClearOnReject {
		s.seq.Clear()
		e.clearResult()
	}
	u := e.view()
	u.Rejected = err
	return u
}

// Backspace removes the last key and reruns the lookup.
func (e *Engine) Backspace() (Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return Update{}, ErrNoSession
	}
	e.backspace()
	return e.view(), nil
}

func (e *Engine) backspace() {
	s := e.session
	if !s.seq.Remove() {
		return
	}
	if s.seq.IsEmpty() {
		e.clearResult()
		return
	}
	if s.queried || e.settings.AutoQuery || s.seq.HasWildcardCharacter() {
		e.refresh()
	} else {
		e.clearResult()
	}
}

// Query forces a lookup of the current sequence regardless of auto_query.
func (e *Engine) Query() (Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return Update{}, ErrNoSession
	}
	if !e.session.seq.IsEmpty() {
		e.refresh()
	}
	return e.view(), nil
}

// refresh reruns the matcher on the current sequence. An only-wildcard
// sequence yields no candidates.
func (e *Engine) refresh() {
	s := e.session
	e.clearResult()
	s.queried = true

	if s.seq.HasOnlyWildcardCharacter() {
		s.onlyWild = true
		return
	}

	res, err := e.matcher.Query(s.seq.Pattern(), e.table)
	if errors.Is(err, match.ErrEmptyQuery) {
		s.onlyWild = true
		return
	}
	s.lookups++
	s.result = res
	s.fragments = match.Expand(res.Candidates)

	e.logger.Debug("lookup",
		"keys", s.seq.String(),
		"candidates", len(res.Candidates),
		"fragment_count", len(s.fragments),
		"truncated", res.Truncated)
}

func (e *Engine) clearResult() {
	s := e.session
	s.result = match.Result{}
	s.fragments = nil
	s.page = 0
	s.queried = false
	s.onlyWild = false
}

func (e *Engine) reset() {
	e.session.seq.Clear()
	e.clearResult()
}

// Select commits the fragment at index on the current page.
func (e *Engine) Select(index int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return "", ErrNoSession
	}

	abs := s.page*e.settings.PageSize + index
	if index < 0 || index >= e.settings.PageSize || abs >= len(s.fragments) {
		return "", fmt.Errorf("%w: %d", ErrNoCandidate, index)
	}
	return e.commit(s.fragments[abs]), nil
}

// Commit commits the first candidate, or the composed text of the sequence
// when the lookup produced none.
func (e *Engine) Commit() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return "", ErrNoSession
	}
	return e.commitFirst()
}

func (e *Engine) commitFirst() (string, error) {
	s := e.session
	if s.seq.IsEmpty() {
		return "", ErrNothingToCommit
	}
	if !s.queried {
		e.refresh()
	}
	if len(s.fragments) > 0 {
		return e.commit(s.fragments[0]), nil
	}

	composed, err := s.seq.Compose(nil)
	if err != nil || len(composed) == 0 {
		return "", ErrNothingToCommit
	}
	return e.commit(string(composed)), nil
}

func (e *Engine) commit(text string) string {
	s := e.session
	s.commits++
	s.runes += utf8.RuneCountInString(text)
	e.logger.Debug("commit", "keys", s.seq.String(), "committed", text)
	e.reset()
	return text
}

// Cancel drops the current sequence and candidates.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return ErrNoSession
	}
	e.reset()
	return nil
}

// NextPage moves to the next candidate page, if any.
func (e *Engine) NextPage() (Update, error) {
	return e.page(1)
}

// PrevPage moves to the previous candidate page, if any.
func (e *Engine) PrevPage() (Update, error) {
	return e.page(-1)
}

func (e *Engine) page(delta int) (Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return Update{}, ErrNoSession
	}
	e.turnPage(delta)
	return e.view(), nil
}

func (e *Engine) turnPage(delta int) {
	s := e.session
	next := s.page + delta
	if next < 0 || next >= e.pages() {
		return
	}
	s.page = next
}

func (e *Engine) pages() int {
	n := len(e.session.fragments)
	return (n + e.settings.PageSize - 1) / e.settings.PageSize
}

// State returns the current visible state.
func (e *Engine) State() (Update, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.session == nil {
		return Update{}, ErrNoSession
	}
	return e.view(), nil
}

func (e *Engine) view() Update {
	s := e.session
	u := Update{
		Keys:         s.seq.String(),
		Page:         s.page,
		Pages:        e.pages(),
		Total:        len(s.fragments),
		Truncated:    s.result.Truncated,
		WildcardOnly: s.onlyWild,
	}
	if u.Total > 0 {
		start := min(s.page*e.settings.PageSize, u.Total)
		end := min(start+e.settings.PageSize, u.Total)
		u.Candidates = append([]string(nil), s.fragments[start:end]...)
	}
	return u
}

// EndSession finalizes the current session and returns its counters.
func (e *Engine) EndSession() (*Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s == nil {
		return nil, ErrNoSession
	}

	summary := &Summary{
		SessionID:      s.ID,
		TableName:      e.table.Name(),
		AppID:          s.AppID,
		StartTime:      s.StartTime,
		EndTime:        time.Now(),
		Keystrokes:     s.keystrokes,
		Rejected:       s.rejected,
		Lookups:        s.lookups,
		Commits:        s.commits,
		CommittedRunes: s.runes,
	}

	e.session = nil
	e.logger.Debug("session ended",
		"session_id", summary.SessionID,
		"keystrokes", summary.Keystrokes,
		"commits", summary.Commits,
		"duration", summary.Duration())

	return summary, nil
}

// generateSessionID creates a unique session identifier.
func generateSessionID() (string, error) {
	var randBytes [4]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return "", err
	}
	return time.Now().Format("20060102-150405") + "-" + hex.EncodeToString(randBytes[:]), nil
}
