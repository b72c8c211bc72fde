// Command prismisd: the prismis content-intelligence daemon.
//
//	run       Acquire the instance lock and poll all active sources on the configured interval (default mode)
//	once      Acquire the lock, run a single cycle, exit
//	add       Validate and register a source: -url, -type, optional -name
//	validate  Probe a candidate source without adding it: -url, -type
//	cleanup   Run orphan reconciliation on the vector index and print the count
//	prune     Delete priority-none items (and vectors): optional -older-than (e.g. 168h)
//
// Exit codes: 0 clean shutdown; non-zero with a message on stderr when the
// lock is held, the config is missing or invalid, or the database cannot be
// opened.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prismis/prismisd/internal/config"
	"github.com/prismis/prismisd/internal/lockfile"
	"github.com/prismis/prismisd/internal/metrics"
	"github.com/prismis/prismisd/internal/pipeline"
	"github.com/prismis/prismisd/internal/store"
	"github.com/prismis/prismisd/internal/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "config file (default: XDG config dir)")
	dbPath := flag.String("db", "", "database file (default: XDG data dir)")
	pidPath := flag.String("pid", "", "PID lock file (default: XDG state dir)")
	flag.Parse()

	mode := flag.Arg(0)
	if mode == "" {
		mode = "run"
	}

	switch mode {
	case "run", "once":
		return runDaemon(mode, *configPath, *dbPath, *pidPath)
	case "add":
		return runAdd(*configPath, *dbPath, flag.Args()[1:])
	case "validate":
		return runValidate(flag.Args()[1:])
	case "cleanup":
		return runCleanup(*dbPath)
	case "prune":
		return runPrune(*dbPath, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q (run|once|add|validate|cleanup|prune)\n", mode)
		return 2
	}
}

func runDaemon(mode, configPath, dbPath, pidPath string) int {
	if pidPath == "" {
		pidPath = config.PIDPath()
	}
	lock, err := lockfile.Acquire(pidPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "Daemon already running")
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	defer lock.Release()

	// A .env next to the config feeds the "env:VAR" api_key indirection
	// without touching the shell profile.
	if configPath == "" {
		configPath = config.Path()
	}
	if err := config.LoadEnvFile(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		log.Printf("env file: %v", err)
	}

	// Validate config up front so a broken file fails the start, not the
	// first cycle.
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if dbPath == "" {
		dbPath = config.DBPath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	if cfg.Daemon.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Daemon.MetricsAddr); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
	}

	sched := &pipeline.Scheduler{
		Store:      st,
		ConfigPath: configPath,
		Metrics:    m,
	}

	log.Printf("prismisd: starting (%s) db=%s interval=%dm workers=%d",
		mode, dbPath, cfg.Daemon.FetchInterval, cfg.Daemon.Workers)

	if mode == "once" {
		stats, err := sched.RunCycle(ctx, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		log.Printf("prismisd: cycle done sources=%d errors=%d new=%d orphans=%d",
			stats.Sources, stats.SourceErrors, stats.NewItems, stats.OrphansRemoved)
		return 0
	}

	if err := sched.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.Printf("prismisd: shut down")
	return 0
}

func runAdd(configPath, dbPath string, args []string) int {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	url := fs.String("url", "", "source URL")
	typ := fs.String("type", "", "source type: feed|forum|video|file")
	name := fs.String("name", "", "display name")
	_ = fs.Parse(args)
	if *url == "" || *typ == "" {
		fmt.Fprintln(os.Stderr, "add: -url and -type are required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if ok, reason := validator.New().Validate(ctx, *url, *typ); !ok {
		fmt.Fprintf(os.Stderr, "invalid source: %s\n", reason)
		return 1
	}

	if dbPath == "" {
		dbPath = config.DBPath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()
	id, err := st.AddSource(*url, *typ, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	url := fs.String("url", "", "source URL")
	typ := fs.String("type", "", "source type: feed|forum|video|file")
	_ = fs.Parse(args)
	if *url == "" || *typ == "" {
		fmt.Fprintln(os.Stderr, "validate: -url and -type are required")
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ok, reason := validator.New().Validate(ctx, *url, *typ)
	if !ok {
		fmt.Fprintln(os.Stderr, reason)
		return 1
	}
	fmt.Println("ok")
	return 0
}

func runCleanup(dbPath string) int {
	if dbPath == "" {
		dbPath = config.DBPath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()
	n, err := st.CleanupOrphanedVectors()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("removed %d orphaned vector(s)\n", n)
	return 0
}

func runPrune(dbPath string, args []string) int {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 0, "only prune items fetched earlier than now minus this (0 = all)")
	_ = fs.Parse(args)
	if dbPath == "" {
		dbPath = config.DBPath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()
	n, err := st.Prune(*olderThan)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("pruned %d item(s)\n", n)
	return 0
}
