// Command datarepo inspects and maintains a datarepo repository.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/datarepo/internal/config"
	"github.com/maruel/datarepo/internal/datarepo"
	"github.com/maruel/datarepo/internal/journal"
	"github.com/maruel/datarepo/internal/schema"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "datarepo: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: datarepo [flags] <command> [args]

commands:
  types                              list the type directories
  ls <typeDir> [directory]           list the entries of a directory
  catalog <file>                     print the type catalog of a data file
  schema <file>                      print the JSON Schema of a data file
  rm <typeDir> <directory> [name]    delete an entry or a whole directory
  log [n]                            print the journal history

flags:
`

func mainImpl() error {
	cfgPath := flag.String("config", "datarepo.yaml", "Configuration file, created with defaults if missing")
	dataDir := flag.String("data-dir", "", "Data directory, overrides the configuration")
	repoName := flag.String("repo", "", "Repository name, overrides the configuration")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides the configuration")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	if flag.NArg() == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *repoName != "" {
		cfg.Repo = *repoName
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	slog.SetDefault(initLogger(level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	return a.run(ctx, flag.Args())
}

func initLogger(level slog.Level) *slog.Logger {
	programLevel := &slog.LevelVar{}
	programLevel.Set(level)
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      programLevel,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
}

// app holds what the commands operate on.
type app struct {
	repo    *datarepo.Repo
	res     *schema.Resolver
	journal *journal.Journal
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{res: schema.NewResolver()}
	opts := &datarepo.Options{LoadWorkers: cfg.LoadWorkers}
	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, filepath.Join(cfg.DataDir, cfg.Repo), cfg.Journal.AuthorName, cfg.Journal.AuthorEmail)
		if err != nil {
			return nil, err
		}
		a.journal = j
		opts.Journal = j
	}
	r, err := datarepo.New(cfg.DataDir, cfg.Repo, a.res, opts)
	if err != nil {
		return nil, err
	}
	a.repo = r
	slog.DebugContext(ctx, "opened repository", "root", r.Root(), "journal", cfg.Journal.Enabled)
	return a, nil
}

// printVersion prints the module version and the VCS revision it was built
// from.
func printVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Println("datarepo (no build information)")
		return
	}
	rev := "unknown"
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			rev = s.Value
		}
	}
	fmt.Printf("datarepo %s %s revision %s\n", info.Main.Version, info.GoVersion, rev)
}
