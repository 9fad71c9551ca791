package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/antcode-sh/antcode/pkg/api"
	"github.com/antcode-sh/antcode/pkg/auth"
	"github.com/antcode-sh/antcode/pkg/balancer"
	"github.com/antcode-sh/antcode/pkg/cache"
	"github.com/antcode-sh/antcode/pkg/checkpoint"
	"github.com/antcode-sh/antcode/pkg/config"
	"github.com/antcode-sh/antcode/pkg/dispatch"
	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/antcode-sh/antcode/pkg/executor"
	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/manager"
	"github.com/antcode-sh/antcode/pkg/metrics"
	"github.com/antcode-sh/antcode/pkg/nodeclient"
	"github.com/antcode-sh/antcode/pkg/projectsync"
	"github.com/antcode-sh/antcode/pkg/queue"
	"github.com/antcode-sh/antcode/pkg/registry"
	"github.com/antcode-sh/antcode/pkg/scheduler"
	"github.com/antcode-sh/antcode/pkg/strategy"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "antcode",
	Short: "AntCode - Distributed task scheduling platform",
	Long: `AntCode schedules rule, file and code projects across a fleet of
worker nodes. The master owns the schedules, the central queue, node
health and crash recovery; workers pull project content and report
results back over signed HTTP.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"AntCode version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(queueCmd)

	masterCmd.Flags().String("config", "", "Path to config file (optional)")
	masterCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	masterCmd.Flags().String("host", "", "Listen host (overrides config)")
	masterCmd.Flags().Int("port", 0, "Listen port (overrides config)")
}

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the AntCode master",
	Long: `Run the scheduling master: the HTTP API, the trigger wheel, the
central queue, the node registry and the recovery sweep, all in one
process backed by a local BoltDB.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			cfg.Data.Dir = dir
		}
		if host, _ := cmd.Flags().GetString("host"); host != "" {
			cfg.Server.Host = host
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.Format == "json",
		})

		fmt.Println("Starting AntCode master...")
		fmt.Printf("  Data Directory: %s\n", cfg.Data.Dir)
		fmt.Printf("  Listen Address: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Master URL: %s\n", cfg.Server.MasterURL)
		fmt.Println()

		mgr, err := manager.NewManager(&manager.Config{
			DataDir: cfg.Data.Dir,
			Cache:   cacheConfig(cfg),
		})
		if err != nil {
			return fmt.Errorf("failed to create manager: %v", err)
		}
		fmt.Println("✓ Store opened")

		// Bootstrap admin; the token is printed exactly once
		_, lookupErr := mgr.GetUserByUsername(cfg.Auth.AdminUser)
		admin, err := mgr.EnsureAdminUser(cfg.Auth.AdminUser)
		if err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to ensure admin user: %v", err)
		}
		if types.IsNotFound(lookupErr) {
			fmt.Printf("✓ Admin user %q created, API token: %s\n", admin.Username, admin.APIToken)
		}

		backend, err := queue.New(queue.Config{
			Backend:       cfg.Queue.Backend,
			RedisAddr:     cfg.Queue.RedisAddr,
			RedisPassword: cfg.Queue.RedisPassword,
			RedisDB:       cfg.Queue.RedisDB,
			KeyPrefix:     cfg.Queue.KeyPrefix,
		})
		if err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to create queue: %v", err)
		}
		fmt.Printf("✓ Queue ready (%s)\n", cfg.Queue.Backend)

		nc := nodeclient.NewClient()

		reg := registry.NewRegistry(mgr, nc)
		reg.Start()
		fmt.Println("✓ Node registry started")

		bal := balancer.NewBalancer(reg, nc)
		bal.Start()
		fmt.Println("✓ Load balancer started")

		resolver := strategy.NewResolver(reg, bal)
		syncer := projectsync.NewSyncer(mgr, cfg.Server.MasterURL)
		disp := dispatch.NewDispatcher(mgr, reg, syncer, nc, cfg.Server.MasterURL, cfg.Dispatch.UseWebsocket)

		logs := api.NewLogStore(cfg.Data.Dir)
		sinkLogger := log.WithComponent("executor")
		sink := func(executionID string, logType types.LogType, content string) {
			if _, err := logs.Append(executionID, logType, content); err != nil {
				sinkLogger.Warn().Err(err).Str("execution_id", executionID).Msg("log append failed")
				return
			}
			mgr.Events().Publish(&events.Event{
				Type:        events.EventExecutionLog,
				ExecutionID: executionID,
				LogType:     logType,
				Message:     content,
			})
		}
		localExec := executor.NewLocalExecutor(filepath.Join(cfg.Data.Dir, "work"), sink)

		sched := scheduler.NewScheduler(mgr, backend, resolver, disp, localExec, scheduler.Config{
			Workers:       cfg.Scheduler.Workers,
			BatchSize:     cfg.Scheduler.BatchSize,
			MaxConcurrent: cfg.Scheduler.MaxConcurrentTasks,
		})
		if err := sched.Start(); err != nil {
			mgr.Shutdown()
			return fmt.Errorf("failed to start scheduler: %v", err)
		}
		fmt.Println("✓ Scheduler started")

		cps := checkpoint.NewService(mgr)
		cps.SetTrigger(sched.Trigger)
		cpsLogger := log.WithComponent("checkpoint")
		if recovered, err := cps.Recover(context.Background()); err != nil {
			cpsLogger.Warn().Err(err).Msg("startup recovery incomplete")
		} else if recovered > 0 {
			fmt.Printf("✓ Recovered %d interrupted execution(s)\n", recovered)
		}
		cps.Start()
		fmt.Println("✓ Checkpoint service started")

		collector := metrics.NewCollector(0,
			func() int {
				n, err := backend.Size(context.Background())
				if err != nil {
					return 0
				}
				return n
			},
			func() int { return len(reg.OnlineNodes()) },
		)
		collector.Start()

		verifier := auth.NewVerifier(mgr.Cache())
		keys := auth.NewKeyService(mgr, mgr.Cache())

		apiServer := api.NewServer(api.Config{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		}, mgr, reg, bal, sched, disp, cps, verifier, keys)

		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Run(); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		fmt.Printf("✓ API listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)

		fmt.Println()
		fmt.Println("Master is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		sched.Stop()
		collector.Stop()
		cps.Stop()
		bal.Stop()
		reg.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
		}
		if err := backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Queue close: %v\n", err)
		}
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func cacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		Backend:       cfg.Cache.Backend,
		MaxEntries:    cfg.Cache.MaxEntries,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
	}
}
