package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarters-hq/quarters/cache"
	"github.com/quarters-hq/quarters/config"
	"github.com/quarters-hq/quarters/cron"
	"github.com/quarters-hq/quarters/event"
	"github.com/quarters-hq/quarters/housekeeping"
	"github.com/quarters-hq/quarters/logger"
	"github.com/quarters-hq/quarters/push"
	"github.com/quarters-hq/quarters/queue"
	"github.com/quarters-hq/quarters/queue/sqliteq"
	"github.com/quarters-hq/quarters/track"

	_ "github.com/mattn/go-sqlite3"
)

// ServeCmd runs the whole daemon in one process: queues, workers, the
// schedule ticker, cron registration, and the push endpoint.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Quarters daemon",
	Long: `Run the Quarters daemon in foreground mode.

The daemon will:
- open the queue databases and start worker pools
- start the schedule ticker for recurring jobs
- register housekeeping cron jobs
- serve the WebSocket push endpoint
- run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Concurrent job workers (overrides config)")
	ServeCmd.Flags().Bool("memory-cache", false, "Use the in-process cache instead of Redis")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = cfg.Queue.Workers
	}

	log := logger.Logger

	// Cache backend for the tracked-job registry.
	memoryCache, _ := cmd.Flags().GetBool("memory-cache")
	var cacheBackend cache.Backend
	if memoryCache {
		cacheBackend = cache.NewMemoryBackend()
		log.Infow("Using in-process cache")
	} else {
		redisBackend, err := cache.NewRedisBackend(cmd.Context(), cache.RedisConfig{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		cacheBackend = redisBackend
		log.Infow("Connected to redis", "addr", cfg.Cache.RedisAddr, "db", cfg.Cache.RedisDB)
	}
	defer cacheBackend.Close()

	tracker := track.NewRegistry(cacheBackend,
		time.Duration(cfg.Track.RetentionSeconds)*time.Second, log)

	// Queue provider and lazy registry.
	poolCfg := sqliteq.WorkerPoolConfig{
		Workers:      workers,
		PollInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
	}
	provider := sqliteq.NewProvider(cfg.Queue.DatabasePath, poolCfg, log)
	defer provider.Close()

	registry := queue.NewRegistry(provider, log)

	// Event bus and push delivery.
	bus := event.NewBus(log)
	sessions := push.NewRegistry(log)
	dispatcher := push.NewDispatcher(bus, sessions, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Housekeeping handlers run on the maintenance queue.
	maintBackend, err := provider.Backend("maintenance")
	if err != nil {
		return err
	}
	leases, err := housekeeping.NewLeaseStore(maintBackend.DB())
	if err != nil {
		return err
	}

	maintHandlers := provider.Handlers("maintenance")
	handlerErr := func() error {
		if err := maintHandlers.Register(housekeeping.NewLeaseExpiryHandler(leases, bus, log)); err != nil {
			return err
		}
		if err := maintHandlers.Register(housekeeping.NewMediaTempCleanupHandler(
			mediaStagingDir(), 24*time.Hour, log)); err != nil {
			return err
		}
		return maintHandlers.Register(housekeeping.NewTrackedJobReportHandler(
			maintBackend, tracker, bus, "ops", log))
	}()
	if handlerErr != nil {
		return fmt.Errorf("failed to register maintenance handlers: %w", handlerErr)
	}

	// Workers and one schedule ticker per queue.
	registry.InitializeAll()
	var pools []queue.Worker
	for _, name := range queue.KnownWorkers {
		worker, err := registry.GetWorker(name)
		if err != nil {
			return fmt.Errorf("failed to resolve worker %q: %w", name, err)
		}
		worker.Start()
		pools = append(pools, worker)
	}

	tickerCfg := sqliteq.TickerConfig{
		Interval: time.Duration(cfg.Queue.TickerIntervalSeconds) * time.Second,
	}
	var tickers []*sqliteq.Ticker
	for _, name := range queue.KnownQueues {
		backend, err := provider.Backend(name)
		if err != nil {
			return err
		}
		ticker := sqliteq.NewTickerWithContext(ctx, backend, tickerCfg, log)
		ticker.Start()
		tickers = append(tickers, ticker)
	}

	// Cron declarations go to the maintenance queue.
	maintQueue, err := registry.GetQueue("maintenance")
	if err != nil {
		return err
	}
	orchestrator := cron.NewOrchestrator(maintQueue, cron.Options{
		DefaultTimezone: cfg.Cron.DefaultTimezone,
		DefaultTimeout:  time.Duration(cfg.Cron.DefaultTimeoutSeconds) * time.Second,
	}, log)
	if err := orchestrator.Register(ctx, housekeeping.Provider{}); err != nil {
		return fmt.Errorf("cron registration failed: %w", err)
	}

	// Bridge job state changes from the jobs queue into push events.
	jobsBackend, err := provider.Backend("jobs")
	if err != nil {
		return err
	}
	stopBridge := startJobEventBridge(ctx, jobsBackend, bus)
	defer stopBridge()

	// HTTP surface: the WebSocket upgrade endpoint plus health.
	mux := http.NewServeMux()
	mux.Handle("/ws", push.NewTransport(sessions, cfg.Server.AllowedOrigins, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Push endpoint listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	fmt.Printf("quartersd started\n")
	fmt.Printf("  Workers: %d per queue\n", poolCfg.Workers)
	fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
	fmt.Printf("  Push endpoint: ws://localhost:%d/ws\n", cfg.Server.Port)
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		log.Errorw("Push endpoint failed", "error", err)
	}

	// Stop components in reverse order of startup.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	for i := len(tickers) - 1; i >= 0; i-- {
		tickers[i].Stop()
	}
	for i := len(pools) - 1; i >= 0; i-- {
		pools[i].Stop()
	}
	sessions.Cleanup()
	cancel()

	fmt.Println("quartersd stopped")
	return nil
}

// startJobEventBridge forwards job completions and failures from the
// queue to the requesting user's sessions. The user id travels in the job
// payload under "user_id"; jobs without one are background work with no
// audience.
func startJobEventBridge(ctx context.Context, backend *sqliteq.Backend, bus *event.Bus) func() {
	ch := backend.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-ch:
				evt, ok := jobEvent(job)
				if !ok {
					continue
				}
				bus.Publish(evt)
			}
		}
	}()

	return func() {
		backend.Unsubscribe(ch)
		<-done
		close(ch)
	}
}
