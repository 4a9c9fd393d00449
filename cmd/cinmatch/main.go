// cinmatch is the command-line front end for key tables: it imports and
// exports table snapshots, runs pattern lookups, and replays keystrokes
// through a typing session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"cinmatch/internal/config"
	"cinmatch/internal/keyseq"
	"cinmatch/internal/keytable"
	"cinmatch/internal/logging"
	"cinmatch/internal/match"
	"cinmatch/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	tableName  = flag.String("table", "", "table to use (default: store.default_table)")
	jsonOutput = flag.Bool("json", false, "print results as JSON")
	format     = flag.String("format", "", "snapshot format: json or yaml (default: from file extension)")
	limit      = flag.Int("limit", -1, "maximum candidates or summaries to show (default: from config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := flag.Arg(0)

	var err error
	switch cmd {
	case "init":
		err = cmdInit()
	case "import":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: cinmatch import <snapshot.json|snapshot.yaml>")
			os.Exit(1)
		}
		err = cmdImport(ctx, flag.Arg(1))
	case "export":
		output := ""
		if flag.NArg() >= 2 {
			output = flag.Arg(1)
		}
		err = cmdExport(ctx, output)
	case "tables":
		err = cmdTables(ctx)
	case "delete":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: cinmatch delete <table>")
			os.Exit(1)
		}
		err = cmdDelete(ctx, flag.Arg(1))
	case "lookup":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: cinmatch lookup <pattern>")
			os.Exit(1)
		}
		err = cmdLookup(ctx, flag.Arg(1))
	case "compose":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: cinmatch compose <keys>")
			os.Exit(1)
		}
		err = cmdCompose(ctx, flag.Arg(1))
	case "type":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: cinmatch type <keys> [keys...]")
			os.Exit(1)
		}
		err = cmdType(ctx, flag.Args()[1:])
	case "shell":
		err = cmdShell(ctx)
	case "sessions":
		err = cmdSessions(ctx)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `cinmatch - key table lookup for array-style input methods

Usage: cinmatch [options] <command> [args]

Commands:
  init               Write a default config file if none exists
  import <file>      Import a JSON or YAML table snapshot
  export [file]      Export a table snapshot (stdout if no file)
  tables             List stored tables
  delete <table>     Remove a stored table
  lookup <pattern>   Show candidates for a key pattern ('?' one key, trailing '*' any rest)
  compose <keys>     Show the display text of a key sequence
  type <keys>...     Type each argument and commit its first candidate
  shell              Interactive typing session on stdin
  sessions           List recorded session summaries
  help               Show this help message

Options:
  -config <path>     Path to config file
  -table <name>      Table to use (default: store.default_table)
  -format json|yaml  Snapshot format (default: from file extension)
  -json              Print results as JSON
  -limit <n>         Maximum candidates or summaries to show`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	return cfg
}

// setupLogging installs a logger built from cfg as the default and returns
// it. On error the previous default is kept and nil is returned.
func setupLogging(cfg *config.Config) *logging.Logger {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return nil
	}
	logger, err := logging.New(lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
		return nil
	}
	logging.SetDefault(logger)
	return logger
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return store.OpenWithTimeout(ctx, cfg.Store.Path, cfg.Store.BusyTimeoutMs)
}

func selectedTable(cfg *config.Config) string {
	if *tableName != "" {
		return *tableName
	}
	return cfg.Store.DefaultTable
}

func loadTable(ctx context.Context, cfg *config.Config) (*keytable.Table, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	name := selectedTable(cfg)
	t, err := st.LoadTable(ctx, name)
	if errors.Is(err, store.ErrTableNotFound) {
		return nil, fmt.Errorf("%w (import one with 'cinmatch import')", err)
	}
	return t, err
}

func snapshotFormat(path string) (store.Format, error) {
	if *format != "" {
		return store.ParseFormat(*format)
	}
	return store.FormatFromPath(path), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func cmdInit() error {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Wrote default config to %s\n", path)
	} else {
		fmt.Printf("Config already exists at %s\n", path)
	}
	return nil
}

func cmdImport(ctx context.Context, path string) error {
	cfg := loadConfig()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	fmtSel, err := snapshotFormat(path)
	if err != nil {
		return err
	}
	t, err := store.ReadSnapshot(f, fmtSel)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveTable(ctx, t); err != nil {
		return err
	}
	logging.Info("table imported", "table", t.Name(), "entries", t.Len())
	fmt.Printf("Imported %s: %d keys, longest key %d\n", t.Name(), t.Len(), t.MaxKeyLength())
	return nil
}

func cmdExport(ctx context.Context, output string) error {
	cfg := loadConfig()

	t, err := loadTable(ctx, cfg)
	if err != nil {
		return err
	}

	fmtSel, err := snapshotFormat(output)
	if err != nil {
		return err
	}

	if output == "" {
		return store.WriteSnapshot(os.Stdout, t, fmtSel)
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := store.WriteSnapshot(f, t, fmtSel); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s\n", t.Name(), output)
	return nil
}

func cmdTables(ctx context.Context) error {
	cfg := loadConfig()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tables, err := st.ListTables(ctx)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(tables)
	}
	if len(tables) == 0 {
		fmt.Println("No tables stored")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKEYS\tLONGEST\tIMPORTED")
	for _, t := range tables {
		marker := ""
		if t.Name == cfg.Store.DefaultTable {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%s%s\t%d\t%d\t%s\n", t.Name, marker, t.EntryCount, t.MaxKeyLength,
			t.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdDelete(ctx context.Context, name string) error {
	cfg := loadConfig()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteTable(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", name)
	return nil
}

func cmdLookup(ctx context.Context, query string) error {
	cfg := loadConfig()

	t, err := loadTable(ctx, cfg)
	if err != nil {
		return err
	}

	p, err := keyseq.ParsePattern(query, t)
	if err != nil {
		return err
	}

	maxCandidates := cfg.Match.MaxCandidates
	if *limit >= 0 {
		maxCandidates = *limit
	}
	res, err := match.New(match.Options{MaxCandidates: maxCandidates}).Query(p, t)
	if errors.Is(err, match.ErrEmptyQuery) {
		return fmt.Errorf("%w: %q holds only wildcards", err, query)
	}
	if err != nil {
		return err
	}

	if *jsonOutput {
		return printJSON(res.Candidates)
	}
	if len(res.Candidates) == 0 {
		fmt.Printf("No candidates for %s\n", p)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, c := range res.Candidates {
		fmt.Fprintf(w, "%d\t%s\t%s\n", c.Rank, c.Key, strings.Join(c.Fragments, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if res.Truncated {
		fmt.Printf("(stopped at %d candidates)\n", maxCandidates)
	}
	return nil
}

func cmdCompose(ctx context.Context, keys string) error {
	cfg := loadConfig()

	t, err := loadTable(ctx, cfg)
	if err != nil {
		return err
	}

	seq := keyseq.New(t, keyseq.WithMaxLength(len(keys)))
	for i := 0; i < len(keys); i++ {
		if err := seq.Append(keys[i]); err != nil {
			return &keyseq.KeyError{Pos: i, Char: keys[i], Err: err}
		}
	}

	out, err := seq.Compose(nil)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
