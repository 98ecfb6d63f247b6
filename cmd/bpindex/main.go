package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sushant-115/bpindex/core/indexing/bptree"
	"github.com/sushant-115/bpindex/core/indexmanager"
	"github.com/sushant-115/bpindex/pkg/config"
	"github.com/sushant-115/bpindex/pkg/logger"
	"github.com/sushant-115/bpindex/pkg/records"
	"github.com/sushant-115/bpindex/pkg/telemetry"
	"go.uber.org/zap"
)

const batchSize = 4096

var ErrUsage = errors.New("usage")

type manager = indexmanager.BPTreeIndexManager[int64, int64]

// app carries what every command needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	tel    *telemetry.Telemetry
	out    io.Writer
}

func (a *app) options() indexmanager.Options {
	return indexmanager.Options{
		Logger:    a.logger,
		Telemetry: a.tel,
		Compress:  a.cfg.Index.CompressSnapshots,
	}
}

func (a *app) open(path string) (*manager, error) {
	m, err := indexmanager.Open(path, bptree.Int64Serializer(), a.options())
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("index %s does not exist, create it with -c first: %w", path, err)
	}
	return m, err
}

func parseInt(name, s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrUsage, name, s)
	}
	return v, nil
}

func (a *app) create(path, orderArg string) error {
	order := a.cfg.Index.DefaultOrder
	if orderArg != "" {
		o, err := parseInt("order", orderArg)
		if err != nil {
			return err
		}
		order = int(o)
	}
	_, err := indexmanager.Create(path, order, bptree.Int64Serializer(), a.options())
	return err
}

func (a *app) insert(ctx context.Context, path, dataPath string) error {
	m, err := a.open(path)
	if err != nil {
		return err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rd := records.NewReader(f)
	batch := make([]bptree.Entry[int64, int64], 0, batchSize)
	total := 0
	flush := func() error {
		n, err := m.InsertBatch(ctx, batch)
		total += n
		batch = batch[:0]
		return err
	}
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", dataPath, err)
		}
		batch = append(batch, bptree.Entry[int64, int64]{Key: rec.Key, Value: rec.Value})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if _, err := m.Save(ctx); err != nil {
		return err
	}
	a.logger.Info("records inserted", zap.String("path", path), zap.Int("records", total))
	return nil
}

func (a *app) delete(ctx context.Context, path, dataPath string) error {
	m, err := a.open(path)
	if err != nil {
		return err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rd := records.NewReader(f)
	batch := make([]int64, 0, batchSize)
	removed := 0
	flush := func() error {
		n, err := m.DeleteBatch(ctx, batch)
		removed += n
		batch = batch[:0]
		return err
	}
	for {
		key, err := rd.NextKey()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", dataPath, err)
		}
		batch = append(batch, key)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if _, err := m.Save(ctx); err != nil {
		return err
	}
	a.logger.Info("keys deleted", zap.String("path", path), zap.Int("removed", removed))
	return nil
}

func writePath(w io.Writer) bptree.PathObserver[int64] {
	return func(_ int, keys []int64) {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.FormatInt(k, 10)
		}
		fmt.Fprintln(w, strings.Join(parts, ","))
	}
}

func (a *app) search(ctx context.Context, path, keyArg string) error {
	key, err := parseInt("key", keyArg)
	if err != nil {
		return err
	}
	m, err := a.open(path)
	if err != nil {
		return err
	}
	v, found := m.SearchWithPath(ctx, key, writePath(a.out))
	if !found {
		fmt.Fprintln(a.out, "NOT FOUND")
		return nil
	}
	fmt.Fprintln(a.out, v)
	return nil
}

func (a *app) rangeQuery(ctx context.Context, path, minArg, maxArg string) error {
	lo, err := parseInt("min", minArg)
	if err != nil {
		return err
	}
	hi, err := parseInt("max", maxArg)
	if err != nil {
		return err
	}
	m, err := a.open(path)
	if err != nil {
		return err
	}
	entries, err := m.GetRange(ctx, lo, hi, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%d,%d\n", e.Key, e.Value)
	}
	return nil
}

func (a *app) backup(ctx context.Context, path, dst string) error {
	m, err := a.open(path)
	if err != nil {
		return err
	}
	res, err := m.Backup(ctx, dst, a.cfg.Index.BackupRateBytesPerSec, a.cfg.Index.VerifyBackups)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "backup %s: %d bytes in %s", dst, res.Bytes, res.Duration.Round(time.Millisecond))
	if len(res.SHA256) > 0 {
		fmt.Fprintf(a.out, ", sha256 %s", hex.EncodeToString(res.SHA256))
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) print(path string) error {
	m, err := a.open(path)
	if err != nil {
		return err
	}
	return m.Visualize(a.out, !color.NoColor)
}

// command is one mode of the tool with its positional arguments.
type command struct {
	name    string
	minArgs int
	maxArgs int
	help    string
}

// commands run in this order whatever their order on the command line.
var commands = []command{
	{"c", 1, 2, "-c index_path [order]      create an empty index"},
	{"i", 2, 2, "-i index_path data.csv     insert key,value rows"},
	{"d", 2, 2, "-d index_path data.csv     delete the keys in the first column"},
	{"s", 2, 2, "-s index_path key          point query with descent path"},
	{"r", 3, 3, "-r index_path min max      range query"},
	{"b", 2, 2, "-b index_path dest_path    throttled backup"},
	{"p", 1, 1, "-p index_path              print the tree"},
	{"shell", 1, 1, "-shell index_path          interactive shell"},
}

func lookupCommand(arg string) (command, bool) {
	if !strings.HasPrefix(arg, "-") {
		return command{}, false
	}
	name := strings.TrimLeft(arg, "-")
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// splitCommands pulls the commands and their arguments out of args and
// returns what is left for the flag set. Required arguments are taken as
// they come, so negative keys need no escaping; optional ones stop at the
// next flag.
func splitCommands(args []string) (map[string][]string, []string, error) {
	found := make(map[string][]string)
	var rest []string
	for i := 0; i < len(args); i++ {
		c, ok := lookupCommand(args[i])
		if !ok {
			rest = append(rest, args[i])
			continue
		}
		if _, dup := found[c.name]; dup {
			return nil, nil, fmt.Errorf("%w: -%s given twice", ErrUsage, c.name)
		}
		if len(args)-i-1 < c.minArgs {
			return nil, nil, fmt.Errorf("%w: -%s takes %d arguments, got %d", ErrUsage, c.name, c.minArgs, len(args)-i-1)
		}
		cmdArgs := append([]string(nil), args[i+1:i+1+c.minArgs]...)
		for _, arg := range cmdArgs {
			if next, isCmd := lookupCommand(arg); isCmd {
				return nil, nil, fmt.Errorf("%w: -%s is missing arguments before -%s", ErrUsage, c.name, next.name)
			}
		}
		i += c.minArgs
		for len(cmdArgs) < c.maxArgs && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			cmdArgs = append(cmdArgs, args[i+1])
			i++
		}
		found[c.name] = cmdArgs
	}
	return found, rest, nil
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		w := fs.Output()
		fmt.Fprintln(w, "Usage: bpindex [-config file] [-v] command [command ...]")
		fmt.Fprintln(w, "\nCommands (several may be combined; they run in this order):")
		for _, c := range commands {
			fmt.Fprintln(w, "  "+c.help)
		}
		fmt.Fprintln(w, "\nFlags:")
		fs.PrintDefaults()
	}
}

// run parses args and executes the requested commands in order, stopping at
// the first failure.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("bpindex", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	verbose := fs.Bool("v", false, "verbose (debug) logging")

	found, rest, err := splitCommands(args)
	if err != nil {
		return err
	}
	if err := fs.Parse(rest); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}
	if len(found) == 0 {
		fs.Usage()
		return fmt.Errorf("%w: no command given", ErrUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Logger.Level = "debug"
	}
	if _, ok := found["shell"]; !ok {
		cfg.Telemetry.PrometheusPort = 0
	}

	zl, err := logger.New(cfg.Logger, "bpindex")
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	a := &app{cfg: cfg, logger: zl, tel: tel, out: stdout}
	for _, c := range commands {
		pos, ok := found[c.name]
		if !ok {
			continue
		}
		if err := a.exec(ctx, c.name, pos); err != nil {
			return fmt.Errorf("-%s: %w", c.name, err)
		}
	}
	return nil
}

// exec runs one command; pos has already been checked against its arity.
func (a *app) exec(ctx context.Context, name string, pos []string) error {
	switch name {
	case "c":
		orderArg := ""
		if len(pos) == 2 {
			orderArg = pos[1]
		}
		return a.create(pos[0], orderArg)
	case "i":
		return a.insert(ctx, pos[0], pos[1])
	case "d":
		return a.delete(ctx, pos[0], pos[1])
	case "s":
		return a.search(ctx, pos[0], pos[1])
	case "r":
		return a.rangeQuery(ctx, pos[0], pos[1], pos[2])
	case "b":
		return a.backup(ctx, pos[0], pos[1])
	case "p":
		return a.print(pos[0])
	default:
		m, err := a.open(pos[0])
		if err != nil {
			return err
		}
		return runShell(ctx, newShell(a, m))
	}
}

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		if errors.Is(err, ErrUsage) && errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("bpindex: %v", err)
	}
}
