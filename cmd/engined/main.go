// Command engined is the engine process bootstrap: it wires config,
// logging, metrics, the Postgres store, the Redis stream transport, and
// the activity state machine together, then drives the stream router
// until signaled to stop. It mirrors the teacher's cmd/main.go — a flat
// main() with no CLI framework, RUN_* environment toggles instead of
// flags/subcommands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/meshrun/engine/internal/activity"
	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/engine"
	"github.com/meshrun/engine/internal/graph"
	"github.com/meshrun/engine/internal/platform/config"
	"github.com/meshrun/engine/internal/platform/logger"
	"github.com/meshrun/engine/internal/platform/metrics"
	"github.com/meshrun/engine/internal/store/pgstore"
	"github.com/meshrun/engine/internal/stream"
	"github.com/meshrun/engine/internal/stream/redisstream"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(log)

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}

	store := pgstore.New(db, log)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("failed to migrate schema", "error", err)
	}

	transport, err := redisstream.New(cfg.RedisAddr, log)
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	publisher := redisstream.NewPublisher(transport, appID())

	graphDir := os.Getenv("GRAPH_DIR")
	if graphDir == "" {
		graphDir = "./graphs"
	}
	graphs, err := graph.LoadDir(graphDir)
	if err != nil {
		log.Fatal("failed to load compiled graphs", "dir", graphDir, "error", err)
	}
	log.Info("loaded compiled graphs", "count", len(graphs), "dir", graphDir)

	var m *metrics.Metrics
	if metrics.Enabled() {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	doers := activity.Registry{
		workflow.KindHook: activity.HookDoer{Index: store},
	}

	machine := &activity.Machine{
		Store:     store,
		Graphs:    graphs,
		Doers:     doers,
		Publisher: publisher,
		Hooks:     store,
	}
	machine.Completion = &engine.Completion{
		Store:     store,
		Publisher: publisher,
		Hooks:     store,
	}

	facade := &engine.Facade{
		AppID:   appID(),
		Machine: machine,
		Store:   store,
	}
	_ = facade // the embedding application (HTTP/gRPC surface) holds this; §1 scopes that surface out

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamKeys := make([]string, 0, len(graphs))
	for topic := range graphs {
		streamKeys = append(streamKeys, redisstream.StreamKey(appID(), topic))
	}

	router := stream.New(transport, machine, log, m, stream.Config{
		Group:           cfg.StreamConsumerGroup,
		Consumer:        cfg.StreamConsumerName,
		BlockDuration:   cfg.StreamBlockTimeout,
		ReclaimMinIdle:  cfg.StreamClaimMinIdle,
		ReclaimCount:    int64(cfg.StreamMaxDeliveries),
	})

	dispatcher := &engine.SleepDispatcher{
		Hooks:    store,
		Machine:  machine,
		Interval: cfg.HookSleepPollInterval,
		Log:      log,
	}
	go dispatcher.Run(ctx)

	if envTrue("RUN_METRICS_SERVER", metrics.Enabled()) {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics server failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, draining router")
		router.Stop()
		cancel()
	}()

	log.Info("engine router starting", "streams", len(streamKeys))
	if err := router.Run(ctx, streamKeys); err != nil && err != context.Canceled {
		log.Fatal("router exited with error", "error", err)
	}
}

func appID() string {
	return strings.TrimSpace(os.Getenv("APP_ID"))
}
