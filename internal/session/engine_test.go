package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinmatch/internal/config"
	"cinmatch/internal/keyseq"
	"cinmatch/internal/keytable"
	"cinmatch/internal/logging"
)

func newTestTable(t *testing.T) *keytable.Table {
	t.Helper()
	tab, err := keytable.NewBuilder("test").
		Add("a", "一").
		Add("ab", "二", "貳").
		Add("abc", "三").
		Add("abd", "十", "三").
		Add("b", "七").
		Add("bb", "八").
		Build()
	require.NoError(t, err)
	return tab
}

func newTestEngine(t *testing.T, tweak func(*config.Config)) *Engine {
	t.Helper()
	t.Setenv("CINMATCH_DATA_DIR", t.TempDir())
	cfg := config.DefaultConfig()
	if tweak != nil {
		tweak(cfg)
	}
	e := NewEngine(newTestTable(t), cfg, logging.Discard())
	require.NoError(t, e.StartSession(SessionOptions{AppID: "test"}))
	return e
}

func typeKeys(t *testing.T, e *Engine, keys string) Update {
	t.Helper()
	var u Update
	for _, c := range keys {
		var err error
		u, err = e.OnKeyDown(NewKey(c))
		require.NoError(t, err)
	}
	return u
}

func TestEngineBasicSession(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.True(t, e.HasActiveSession())

	u := typeKeys(t, e, "a")
	assert.Equal(t, "a", u.Keys)
	assert.Equal(t, []string{"一"}, u.Candidates)

	u = typeKeys(t, e, "b")
	assert.Equal(t, "ab", u.Keys)
	assert.Equal(t, []string{"二", "貳"}, u.Candidates)

	text, err := e.Commit()
	require.NoError(t, err)
	assert.Equal(t, "二", text)

	u, err = e.State()
	require.NoError(t, err)
	assert.Empty(t, u.Keys)
	assert.Empty(t, u.Candidates)
}

func TestEngineWildcardLookup(t *testing.T) {
	e := newTestEngine(t, nil)

	u := typeKeys(t, e, "ab?")
	assert.Equal(t, "ab?", u.Keys)
	assert.Equal(t, []string{"三", "十"}, u.Candidates)
	assert.False(t, u.WildcardOnly)
}

func TestEngineOnlyWildcardIsNotAnError(t *testing.T) {
	e := newTestEngine(t, nil)

	u := typeKeys(t, e, "?")
	assert.True(t, u.WildcardOnly)
	assert.Empty(t, u.Candidates)
	assert.NoError(t, u.Rejected)

	u = typeKeys(t, e, "*")
	assert.True(t, u.WildcardOnly)
	assert.Equal(t, "?*", u.Keys)

	_, err := e.Commit()
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestEngineRejectsKeys(t *testing.T) {
	tests := []struct {
		name  string
		typed string
		next  rune
		want  error
	}{
		{"outside alphabet", "a", 'Z', keyseq.ErrInvalidKey},
		{"non ascii", "a", '日', keyseq.ErrInvalidKey},
		{"after star", "a*", 'b', keyseq.ErrWildcardAfterStar},
		{"full", "abc", 'd', keyseq.ErrSequenceFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			before := typeKeys(t, e, tt.typed)

			u, err := e.OnKeyDown(NewKey(tt.next))
			require.NoError(t, err)
			assert.ErrorIs(t, u.Rejected, tt.want)
			assert.Equal(t, before.Keys, u.Keys)
			assert.Equal(t, before.Candidates, u.Candidates)
		})
	}
}

func TestEngineClearOnReject(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Session.ClearOnReject = true })

	typeKeys(t, e, "ab")
	u, err := e.OnKeyDown(NewKey('Z'))
	require.NoError(t, err)
	assert.ErrorIs(t, u.Rejected, keyseq.ErrInvalidKey)
	assert.Empty(t, u.Keys)
	assert.Empty(t, u.Candidates)
}

func TestEnginePaging(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Match.PageSize = 2 })

	u := typeKeys(t, e, "a*")
	assert.Equal(t, 5, u.Total)
	assert.Equal(t, 3, u.Pages)
	assert.Equal(t, []string{"一", "二"}, u.Candidates)

	u, err := e.PrevPage()
	require.NoError(t, err)
	assert.Equal(t, 0, u.Page)

	u, err = e.NextPage()
	require.NoError(t, err)
	assert.Equal(t, 1, u.Page)
	assert.Equal(t, []string{"貳", "三"}, u.Candidates)

	u, err = e.OnKeyDown(NewCodeKey(CodePageDown))
	require.NoError(t, err)
	assert.Equal(t, []string{"十"}, u.Candidates)

	u, err = e.NextPage()
	require.NoError(t, err)
	assert.Equal(t, 2, u.Page)

	_, err = e.Select(1)
	assert.ErrorIs(t, err, ErrNoCandidate)

	text, err := e.Select(0)
	require.NoError(t, err)
	assert.Equal(t, "十", text)
}

func TestEngineSelectOutOfRange(t *testing.T) {
	e := newTestEngine(t, nil)
	typeKeys(t, e, "ab")

	_, err := e.Select(-1)
	assert.ErrorIs(t, err, ErrNoCandidate)
	_, err = e.Select(2)
	assert.ErrorIs(t, err, ErrNoCandidate)

	text, err := e.Select(1)
	require.NoError(t, err)
	assert.Equal(t, "貳", text)
}

func TestEngineManualQuery(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Session.AutoQuery = false })

	u := typeKeys(t, e, "ab")
	assert.Empty(t, u.Candidates)

	u, err := e.Query()
	require.NoError(t, err)
	assert.Equal(t, []string{"二", "貳"}, u.Candidates)

	require.NoError(t, e.Cancel())
	typeKeys(t, e, "b")
	u, err = e.OnKeyDown(NewCodeKey(CodeEnter))
	require.NoError(t, err)
	assert.Equal(t, "七", u.Committed)
}

func TestEngineQueriesWhenFullWithoutAutoQuery(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Session.AutoQuery = false })

	u := typeKeys(t, e, "abc")
	assert.Equal(t, []string{"三"}, u.Candidates)
}

func TestEngineBackspace(t *testing.T) {
	e := newTestEngine(t, nil)

	typeKeys(t, e, "ab")
	u, err := e.Backspace()
	require.NoError(t, err)
	assert.Equal(t, "a", u.Keys)
	assert.Equal(t, []string{"一"}, u.Candidates)

	u, err = e.OnKeyDown(NewCodeKey(CodeBackspace))
	require.NoError(t, err)
	assert.Empty(t, u.Keys)
	assert.Empty(t, u.Candidates)

	u, err = e.Backspace()
	require.NoError(t, err)
	assert.Empty(t, u.Keys)
}

func TestEngineEscapeClears(t *testing.T) {
	e := newTestEngine(t, nil)

	typeKeys(t, e, "ab")
	u, err := e.OnKeyDown(NewCodeKey(CodeEscape))
	require.NoError(t, err)
	assert.Empty(t, u.Keys)
	assert.Zero(t, u.Total)
}

func TestEngineIgnoresChords(t *testing.T) {
	e := newTestEngine(t, nil)

	u, err := e.OnKeyDown(Key{Char: 'a', Modifiers: ModControl})
	require.NoError(t, err)
	assert.True(t, u.Ignored)
	assert.Empty(t, u.Keys)

	u, err = e.OnKeyDown(Key{Char: 'a', Modifiers: ModShift})
	require.NoError(t, err)
	assert.False(t, u.Ignored)
	assert.Equal(t, "a", u.Keys)
}

func TestEngineCommitComposedKeyname(t *testing.T) {
	t.Setenv("CINMATCH_DATA_DIR", t.TempDir())
	tab, err := keytable.NewBuilder("named").
		Keyname('a', "1^").
		Keyname('b', "2^").
		Add("a", "一").
		Build()
	require.NoError(t, err)

	e := NewEngine(tab, config.DefaultConfig(), logging.Discard())
	require.NoError(t, e.StartSession(SessionOptions{}))

	typeKeys(t, e, "b")
	text, err := e.Commit()
	require.NoError(t, err)
	assert.Equal(t, "2^", text)
}

func TestEngineSessionLifecycle(t *testing.T) {
	t.Setenv("CINMATCH_DATA_DIR", t.TempDir())
	e := NewEngine(newTestTable(t), config.DefaultConfig(), logging.Discard())

	_, err := e.OnKeyDown(NewKey('a'))
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = e.EndSession()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, e.Cancel(), ErrNoSession)

	require.NoError(t, e.StartSession(SessionOptions{AppID: "editor"}))
	assert.ErrorIs(t, e.StartSession(SessionOptions{}), ErrSessionActive)

	typeKeys(t, e, "aZ")
	typeKeys(t, e, "b")
	_, err = e.Commit()
	require.NoError(t, err)

	summary, err := e.EndSession()
	require.NoError(t, err)
	assert.NotEmpty(t, summary.SessionID)
	assert.Equal(t, "test", summary.TableName)
	assert.Equal(t, "editor", summary.AppID)
	assert.Equal(t, 3, summary.Keystrokes)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 2, summary.Lookups)
	assert.Equal(t, 1, summary.Commits)
	assert.Equal(t, 1, summary.CommittedRunes)
	assert.GreaterOrEqual(t, summary.Duration().Nanoseconds(), int64(0))
	assert.False(t, e.HasActiveSession())
}

func TestEngineReconfigure(t *testing.T) {
	e := newTestEngine(t, nil)
	typeKeys(t, e, "a*")

	cfg := config.DefaultConfig()
	cfg.Match.PageSize = 1
	cfg.Match.MaxCandidates = 2
	e.Reconfigure(cfg)
	assert.Equal(t, 1, e.Settings().PageSize)

	u, err := e.Query()
	require.NoError(t, err)
	assert.True(t, u.Truncated)
	assert.Equal(t, 3, u.Total)
	assert.Equal(t, []string{"一"}, u.Candidates)
}

func TestEngineReconfigureKeepsPageInRange(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Match.PageSize = 2 })
	typeKeys(t, e, "a*")

	_, err := e.NextPage()
	require.NoError(t, err)
	u, err := e.NextPage()
	require.NoError(t, err)
	require.Equal(t, 2, u.Page)

	cfg := config.DefaultConfig()
	cfg.Match.PageSize = 5
	e.Reconfigure(cfg)

	u, err = e.State()
	require.NoError(t, err)
	assert.Equal(t, 0, u.Page)
	assert.Equal(t, 1, u.Pages)
	assert.Equal(t, []string{"一", "二", "貳", "三", "十"}, u.Candidates)

	text, err := e.Select(4)
	require.NoError(t, err)
	assert.Equal(t, "十", text)
}

func TestEngineRedactsRejectedKey(t *testing.T) {
	t.Setenv("CINMATCH_DATA_DIR", t.TempDir())

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&logging.Config{Level: logging.LevelDebug, RedactText: true}, &buf)
	e := NewEngine(newTestTable(t), config.DefaultConfig(), logger)
	require.NoError(t, e.StartSession(SessionOptions{AppID: "test"}))

	u := typeKeys(t, e, "aQ")
	require.ErrorIs(t, u.Rejected, keyseq.ErrInvalidKey)

	out := buf.String()
	assert.Contains(t, out, "key rejected")
	assert.NotContains(t, out, "Q")

	buf.Reset()
	e.SetLogger(logging.NewWithWriter(&logging.Config{Level: logging.LevelDebug}, &buf))
	typeKeys(t, e, "Q")
	assert.Contains(t, buf.String(), "char=Q")
}

func TestEngineMaxLengthOverride(t *testing.T) {
	e := newTestEngine(t, func(c *config.Config) { c.Sequence.MaxLength = 2 })

	u := typeKeys(t, e, "abc")
	assert.Equal(t, "ab", u.Keys)
	assert.ErrorIs(t, u.Rejected, keyseq.ErrSequenceFull)
}
