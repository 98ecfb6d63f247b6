package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"go.uber.org/zap"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("get"),
	readline.PcItem("put"),
	readline.PcItem("del"),
	readline.PcItem("range"),
	readline.PcItem("print"),
	readline.PcItem("verify"),
	readline.PcItem("stats"),
	readline.PcItem("save"),
	readline.PcItem("backup"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

// shell executes interactive commands against one open index.
type shell struct {
	app *app
	m   *manager
	out io.Writer
	// confirmExit is set after an exit attempt with unsaved changes.
	confirmExit bool
}

func newShell(a *app, m *manager) *shell {
	return &shell{app: a, m: m, out: a.out}
}

func (s *shell) help() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  get <key>")
	fmt.Fprintln(s.out, "  put <key> <value>")
	fmt.Fprintln(s.out, "  del <key>")
	fmt.Fprintln(s.out, "  range <min> <max> [limit]")
	fmt.Fprintln(s.out, "  print")
	fmt.Fprintln(s.out, "  verify")
	fmt.Fprintln(s.out, "  stats")
	fmt.Fprintln(s.out, "  save")
	fmt.Fprintln(s.out, "  backup <dest_path>")
	fmt.Fprintln(s.out, "  exit / quit")
}

func (s *shell) ints(args []string, names ...string) ([]int64, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("%w: want %s", ErrUsage, strings.Join(names, " "))
	}
	out := make([]int64, len(args))
	for i, a := range args {
		v, err := parseInt(names[i], a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// exec runs one command line and reports whether the shell should stop.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	if cmd != "exit" && cmd != "quit" {
		s.confirmExit = false
	}

	switch cmd {
	case "get":
		v, err := s.ints(args, "<key>")
		if err != nil {
			return false, err
		}
		val, found := s.m.SearchWithPath(ctx, v[0], writePath(s.out))
		if !found {
			fmt.Fprintln(s.out, "NOT FOUND")
			return false, nil
		}
		fmt.Fprintln(s.out, val)
	case "put":
		v, err := s.ints(args, "<key>", "<value>")
		if err != nil {
			return false, err
		}
		return false, s.m.Put(ctx, v[0], v[1])
	case "del":
		v, err := s.ints(args, "<key>")
		if err != nil {
			return false, err
		}
		removed, err := s.m.Delete(ctx, v[0])
		if err != nil {
			return false, err
		}
		if !removed {
			fmt.Fprintln(s.out, "NOT FOUND")
		}
	case "range":
		limit := 0
		if len(args) == 3 {
			l, err := strconv.Atoi(args[2])
			if err != nil {
				return false, fmt.Errorf("%w: limit %q is not an integer", ErrUsage, args[2])
			}
			limit = l
			args = args[:2]
		}
		v, err := s.ints(args, "<min>", "<max>")
		if err != nil {
			return false, err
		}
		entries, err := s.m.GetRange(ctx, v[0], v[1], limit)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			fmt.Fprintf(s.out, "%d,%d\n", e.Key, e.Value)
		}
	case "print":
		return false, s.m.Visualize(s.out, !color.NoColor)
	case "verify":
		if err := s.m.Verify(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "OK")
	case "stats":
		s.stats()
	case "save":
		h, err := s.m.Save(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "saved %d entries, snapshot %s\n", h.Entries, h.ID)
	case "backup":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: want <dest_path>", ErrUsage)
		}
		cfg := s.app.cfg.Index
		res, err := s.m.Backup(ctx, args[0], cfg.BackupRateBytesPerSec, cfg.VerifyBackups)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "backup %s: %d bytes\n", args[0], res.Bytes)
	case "help":
		s.help()
	case "exit", "quit":
		return s.requestExit(), nil
	default:
		return false, fmt.Errorf("%w: unknown command %q, type help for a list", ErrUsage, cmd)
	}
	return false, nil
}

// requestExit reports whether the shell may stop. With unsaved changes the
// first request only warns; a second one in a row discards them.
func (s *shell) requestExit() bool {
	if s.m.Dirty() && !s.confirmExit {
		s.confirmExit = true
		fmt.Fprintln(s.out, "index has unsaved changes; run save, or exit again to discard them")
		return false
	}
	return true
}

func (s *shell) stats() {
	st := s.m.Stats()
	fmt.Fprintf(s.out, "path:           %s\n", st.Path)
	fmt.Fprintf(s.out, "entries:        %d\n", st.Entries)
	fmt.Fprintf(s.out, "height:         %d\n", st.Height)
	fmt.Fprintf(s.out, "leaves:         %d\n", st.Leaves)
	fmt.Fprintf(s.out, "internal nodes: %d\n", st.InternalNodes)
	fmt.Fprintf(s.out, "full nodes:     %d\n", st.FullNodes)
	fmt.Fprintf(s.out, "leaf fill:      %.1f%%\n", st.LeafFill*100)
	fmt.Fprintf(s.out, "dirty:          %t\n", st.Dirty)
	fmt.Fprintf(s.out, "snapshot:       %s\n", st.LastSnapshot.ID)
	kinds := make([]string, 0, len(st.Events))
	for k := range st.Events {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(s.out, "event %-14s %d\n", k+":", st.Events[k])
	}
}

// runShell reads commands until exit or cancellation. Ctrl-D and Ctrl-C on an
// empty line count as exit.
func runShell(ctx context.Context, s *shell) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "bpindex> ",
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	s.out = rl.Stdout()

	fmt.Fprintf(s.out, "bpindex shell on %s. Type 'help' for commands.\n", s.m.Path())
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) && len(line) > 0 {
			continue
		}
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			if s.requestExit() {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}
		quit, err := s.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			s.app.logger.Debug("shell command failed", zap.String("line", line), zap.Error(err))
		}
		if quit {
			return nil
		}
	}
	if s.m.Dirty() {
		s.app.logger.Warn("shell cancelled with unsaved changes", zap.String("path", s.m.Path()))
	}
	return nil
}
