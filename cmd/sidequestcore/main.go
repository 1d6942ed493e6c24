// sidequestcore is the composition-root entry point for the orchestration
// kernel. It wires Orchestrator and, unless --once is given, hands it to
// the WatchController. Full configuration loading and engine-adapter
// registration are the embedding application's job (spec.md §1) — this
// binary only exercises the kernel with its illustrative defaults.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/config"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/logging"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/orchestrator"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/scheduler"
	"github.com/Invisible-Cities-Agency/sidequestcore/internal/watch"
)

const version = "0.1.0"

func main() {
	var (
		showVersion  = flag.Bool("version", false, "Show version")
		dataDir      = flag.String("data-dir", ".sidequest", "Directory for the store and watch-session.json")
		targetPath   = flag.String("target", ".", "Path the watch session is scoped to")
		strict       = flag.Bool("strict", false, "Critical flag compared on session resumption")
		eslintOnly   = flag.Bool("eslint-only", false, "Critical flag compared on session resumption")
		once         = flag.Bool("once", false, "Run a single full-scan check and exit instead of entering watch mode")
		clearSession = flag.Bool("clear-session", false, "Truncate watch-session.json on a clean shutdown instead of leaving it resumable")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sidequestcore v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: sidequestcore [flags]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("sidequestcore v%s\n", version)
		return
	}

	log := logging.New("sidequestcore")

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(*dataDir, "sidequest.db")
	cfg.Watch.TargetPath = *targetPath
	cfg.Watch.Strict = *strict
	cfg.Watch.ESLintOnly = *eslintOnly

	events := scheduler.Events{
		RuleFailed: func(ruleID, engineID string, err error) {
			log.WithFields(map[string]any{"rule": ruleID, "engine": engineID}).Warnf("rule check failed: %v", err)
		},
	}

	orch, err := orchestrator.New(cfg, log, events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *once {
		result, err := orch.Check(context.Background())
		closeErr := orch.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", closeErr)
			os.Exit(1)
		}
		fmt.Printf("processed %s violations: %s new, %s updated, %s deduplicated, %s errors\n",
			humanize.Comma(int64(result.Processed)), humanize.Comma(int64(result.Inserted)),
			humanize.Comma(int64(result.Updated)), humanize.Comma(int64(result.Deduplicated)),
			humanize.Comma(int64(len(result.Errors))))
		return
	}

	opts := watch.Options{
		DataDir:       *dataDir,
		Cwd:           cwd,
		TargetPath:    *targetPath,
		Strict:        *strict,
		ESLintOnly:    *eslintOnly,
		ClearSession:  *clearSession,
		WatchPath:     *targetPath,
		TickInterval:  cfg.Watch.TickInterval(),
		WatchDebounce: cfg.Watch.Debounce(),
	}
	watchEvents := watch.Events{
		Shutdown: func(reason watch.ShutdownReason) {
			log.Infof("watch mode shutting down: %s", reason)
		},
		InvalidTransition: func(from watch.Phase, attempted string) {
			log.Debugf("watch: rejected %s while in %s", attempted, from)
		},
		DisplayUpdate: func(summary watch.Summary) {
			log.Infof("watch: %d active violations", summary.Total)
		},
	}

	ctrl := watch.New(orch, log, opts, watchEvents)
	os.Exit(ctrl.Run(context.Background()))
}
