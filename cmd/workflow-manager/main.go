// Command workflow-manager is the single entrypoint binary for the
// orchestrator: one process runs the dispatch loop (C7) against the eight
// consumer bindings of spec §4.7, plus the service liveness monitor (C2).
// Grounded on arkeep's cmd/server/main.go (cobra root command wrapping
// run(), persistent flags defaulted from the environment, signal-driven
// graceful shutdown).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobflow/workflow-manager/internal/bus"
	"github.com/gobflow/workflow-manager/internal/config"
	"github.com/gobflow/workflow-manager/internal/data/db"
	"github.com/gobflow/workflow-manager/internal/data/repos"
	"github.com/gobflow/workflow-manager/internal/dispatch"
	"github.com/gobflow/workflow-manager/internal/lifecycle"
	"github.com/gobflow/workflow-manager/internal/logger"
	"github.com/gobflow/workflow-manager/internal/service"
	"github.com/gobflow/workflow-manager/internal/tasks"
	"github.com/gobflow/workflow-manager/internal/tracing"
	"github.com/gobflow/workflow-manager/internal/workflow"
	"github.com/gobflow/workflow-manager/internal/workflow/catalog"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var migrate bool

	root := &cobra.Command{
		Use:   "workflow-manager",
		Short: "workflow-manager — message-driven job/step orchestrator",
		Long: `workflow-manager consumes workflow-request and result messages off a
message bus, walks a static, typed workflow tree per job type, and drives
jobs through a Job/JobStep/Task lifecycle backed by Postgres (or sqlite
for local development).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), migrate)
		},
	}

	root.AddCommand(newVersionCmd())
	root.PersistentFlags().BoolVar(&migrate, "migrate", false, "run pending migrations to head and exit, instead of starting the service")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("workflow-manager %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, migrateOnly bool) error {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	cfg := config.Load(log)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Database ---
	handle, err := db.Open(db.Config{Driver: cfg.DBDriver, DSN: cfg.DSN(), Log: log})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if migrateOnly {
		log.Info("running migrations to head", "driver", cfg.DBDriver)
		if err := handle.Connect(ctx, "", true); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		log.Info("migrations complete")
		return nil
	}

	if err := handle.Connect(ctx, "", false); err != nil {
		return fmt.Errorf("failed to connect (migrate to head): %w", err)
	}

	// --- 2. Tracing ---
	shutdownTracing := func(context.Context) error { return nil }
	if cfg.TracingEnabled {
		shutdownTracing, err = tracing.Init(ctx, log, cfg.LogName)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("otel shutdown error", "error", err)
		}
	}()

	// --- 3. Storage gateway + lifecycle ---
	gw := repos.NewGateway(handle, cfg, log)
	life := lifecycle.NewManager(gw, cfg, log)

	// --- 4. Workflow registry ---
	reg := workflow.NewRegistry()
	if err := catalog.Register(reg); err != nil {
		return fmt.Errorf("failed to register static workflows: %w", err)
	}
	if err := reg.LoadFile(cfg.WorkflowRegistryFile); err != nil {
		return fmt.Errorf("failed to load workflow registry file: %w", err)
	}

	// --- 5. Message bus ---
	b := bus.New(cfg.RedisAddr, cfg.RedisDB, log)
	defer b.Close()

	// --- 6. Task queue + service monitor ---
	queue := tasks.NewQueue(gw, b, log)
	monitor, err := service.NewMonitor(gw, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build service monitor: %w", err)
	}

	// --- 7. Dispatch loop ---
	loop := dispatch.NewLoop(b, gw, life, reg, queue, monitor, log)

	log.Info("workflow-manager starting",
		"version", version,
		"db_driver", cfg.DBDriver,
		"redis_addr", cfg.RedisAddr,
	)

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dispatch loop stopped: %w", err)
	}

	log.Info("workflow-manager stopped")
	return nil
}
