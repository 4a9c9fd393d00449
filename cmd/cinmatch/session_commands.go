package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"cinmatch/internal/config"
	"cinmatch/internal/logging"
	"cinmatch/internal/session"
)

func startEngine(ctx context.Context, cfg *config.Config) (*session.Engine, error) {
	t, err := loadTable(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine := session.NewEngine(t, cfg, logging.Default())
	if err := engine.StartSession(session.SessionOptions{AppID: "cinmatch-cli"}); err != nil {
		return nil, err
	}
	return engine, nil
}

func finishSession(ctx context.Context, cfg *config.Config, engine *session.Engine) error {
	summary, err := engine.EndSession()
	if err != nil {
		return err
	}
	if !cfg.Store.SaveSummaries {
		return nil
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveSummary(ctx, summary)
}

func printUpdate(u session.Update) {
	switch {
	case u.Rejected != nil:
		fmt.Printf("[%s] rejected: %v\n", u.Keys, u.Rejected)
	case u.WildcardOnly:
		fmt.Printf("[%s] (wildcards only)\n", u.Keys)
	case u.Total == 0:
		fmt.Printf("[%s]\n", u.Keys)
	default:
		var b strings.Builder
		for i, c := range u.Candidates {
			fmt.Fprintf(&b, " %d.%s", i, c)
		}
		more := ""
		if u.Pages > 1 {
			more = fmt.Sprintf("  (%d/%d)", u.Page+1, u.Pages)
		}
		if u.Truncated {
			more += " +"
		}
		fmt.Printf("[%s]%s%s\n", u.Keys, b.String(), more)
	}
}

func cmdType(ctx context.Context, words []string) error {
	cfg := loadConfig()

	engine, err := startEngine(ctx, cfg)
	if err != nil {
		return err
	}

	var out strings.Builder
	for _, word := range words {
		for _, c := range word {
			u, err := engine.OnKeyDown(session.NewKey(c))
			if err != nil {
				return err
			}
			printUpdate(u)
		}
		u, err := engine.OnKeyDown(session.NewCodeKey(session.CodeSpace))
		if err != nil {
			return err
		}
		if u.Committed == "" {
			fmt.Printf("%s: nothing to commit\n", word)
			engine.Cancel()
			continue
		}
		out.WriteString(u.Committed)
	}

	fmt.Println(out.String())
	return finishSession(ctx, cfg, engine)
}

// cmdShell reads one line per step. Plain text is typed key by key; a line
// starting with ':' is a command.
func cmdShell(ctx context.Context) error {
	cfg := loadConfig()

	engine, err := startEngine(ctx, cfg)
	if err != nil {
		return err
	}

	loader := config.NewLoader(*configPath)
	if _, err := loader.Load(); err == nil {
		loader.OnChange(engine.Reconfigure)
		loader.OnChange(func(c *config.Config) {
			prev := logging.Default()
			if logger := setupLogging(c); logger != nil {
				engine.SetLogger(logger)
				prev.Close()
			}
		})
		if err := loader.Watch(); err != nil {
			logging.Warn("config watch unavailable", "error", err)
		}
	}
	defer loader.Close()

	fmt.Println(`Type keys and press Enter. Commands: ":" commit first, ":<n>" select, ":n"/":p" page, ":bs" backspace, ":c" cancel, ":q" quit`)

	var committed strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		select {
		case err := <-loader.Errors():
			fmt.Printf("config reload failed: %v\n", err)
		default:
		}

		if !strings.HasPrefix(line, ":") {
			for _, c := range line {
				u, err := engine.OnKeyDown(session.NewKey(c))
				if err != nil {
					return err
				}
				printUpdate(u)
			}
			continue
		}

		var u session.Update
		switch cmd := strings.TrimPrefix(line, ":"); cmd {
		case "q":
			fmt.Println(committed.String())
			return finishSession(ctx, cfg, engine)
		case "":
			text, err := engine.Commit()
			if errors.Is(err, session.ErrNothingToCommit) {
				fmt.Println("nothing to commit")
				continue
			}
			if err != nil {
				return err
			}
			committed.WriteString(text)
			fmt.Printf("> %s\n", text)
			continue
		case "n":
			u, err = engine.NextPage()
		case "p":
			u, err = engine.PrevPage()
		case "bs":
			u, err = engine.Backspace()
		case "c":
			if err = engine.Cancel(); err == nil {
				u, err = engine.State()
			}
		default:
			n, convErr := strconv.Atoi(cmd)
			if convErr != nil {
				fmt.Printf("unknown command %q\n", line)
				continue
			}
			text, err := engine.Select(n)
			if errors.Is(err, session.ErrNoCandidate) {
				fmt.Println(err)
				continue
			}
			if err != nil {
				return err
			}
			committed.WriteString(text)
			fmt.Printf("> %s\n", text)
			continue
		}
		if err != nil {
			return err
		}
		printUpdate(u)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Println(committed.String())
	return finishSession(ctx, cfg, engine)
}

func cmdSessions(ctx context.Context) error {
	cfg := loadConfig()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	n := *limit
	if n < 0 {
		n = 20
	}
	summaries, err := st.ListSummaries(ctx, n)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions recorded (set store.save_summaries = true to record them)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTABLE\tAPP\tDURATION\tKEYS\tREJECTED\tLOOKUPS\tCOMMITS")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			s.StartTime.Format("2006-01-02 15:04"), s.TableName, s.AppID,
			s.Duration().Round(1e9), s.Keystrokes, s.Rejected, s.Lookups, s.Commits)
	}
	return w.Flush()
}
