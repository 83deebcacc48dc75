// Command loadcache runs a concurrent workload against a loader cache and
// reports how loaders are shared, reclaimed and torn down.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/loadcache/cache"
	"github.com/jonwraymond/loadcache/health"
	"github.com/jonwraymond/loadcache/observe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "loadcache:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	logger := obs.Logger()

	mode, err := cache.ParseConstructionMode(cfg.Cache.Construction)
	if err != nil {
		return err
	}
	loaders, err := cache.New[*Loader](cache.Config{
		Logger:            logger.With(observe.F("component", "cache")),
		Meter:             obs.Meter(),
		Tracer:            obs.Tracer(),
		Construction:      mode,
		ConstructionRetry: cfg.Cache.Retry,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loaders.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "cache shutdown incomplete", observe.F("error", err))
		}
	}()

	checker := health.NewReclaimChecker("loaders", loaders, health.ReclaimCheckerConfig{
		MaxPending: cfg.Cache.MaxPending,
	})

	if cfg.Listen != "" {
		srv := newServer(cfg.Listen, checker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "http server failed", observe.F("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info(ctx, "serving", observe.F("addr", cfg.Listen))
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	for round := 1; round <= cfg.Workload.Rounds; round++ {
		if err := runRound(ctx, loaders, cfg.Workload); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		if !awaitReclamation(ctx, loaders, cfg.Workload.ReclaimWait) {
			logger.Warn(ctx, "loaders still cached after round",
				observe.F("round", round),
				observe.F("entries", loaders.Len()),
				observe.F("pending", loaders.Pending()),
			)
		}
		if err := enc.Encode(newRoundReport(round, loaders.Stats())); err != nil {
			return err
		}
	}

	results := health.CheckAll(ctx, checker)
	if err := enc.Encode(health.NewResponse(results)); err != nil {
		return err
	}
	logger.Info(ctx, "workload finished",
		observe.F("rounds", cfg.Workload.Rounds),
		observe.F("live_host_refs", hostState.len()),
	)
	return ctx.Err()
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("loadcache", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	workers := fs.Int("workers", 0, "concurrent calls per round (overrides config)")
	rounds := fs.Int("rounds", 0, "number of rounds (overrides config)")
	listen := fs.String("listen", "", "address for /metrics and /healthz (overrides config)")
	mode := fs.String("construction", "", "construction mode: exclusive or coalesced (overrides config)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workload.Workers = *workers
		case "rounds":
			cfg.Workload.Rounds = *rounds
		case "listen":
			cfg.Listen = *listen
		case "construction":
			cfg.Cache.Construction = *mode
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newServer(addr string, checkers ...health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health.Handler(checkers...))
	mux.Handle("/livez", health.LivenessHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runRound issues one WithResource call per worker, spreading workers over
// the configured location sets.
func runRound(ctx context.Context, loaders *cache.Cache[*Loader], w WorkloadConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.Workers)

	for i := range w.Workers {
		locations := w.LocationSets[i%len(w.LocationSets)]
		g.Go(func() error {
			return loaders.WithResource(gctx, locations, scrubHost, closeLoader,
				func(ctx context.Context) (*Loader, error) {
					return openLoader(ctx, locations, w.OpenDelay)
				},
				func(ctx context.Context, h *cache.Handle[*Loader]) error {
					return h.Resource().Run(ctx)
				})
		})
	}
	return g.Wait()
}

// awaitReclamation collects garbage until every loader has been torn down
// or wait elapses. A loader leaves the host registry only in its inbound
// teardown, so an empty registry means every notification was processed.
func awaitReclamation(ctx context.Context, loaders *cache.Cache[*Loader], wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		runtime.GC()
		if loaders.IsEmpty() && loaders.Pending() == 0 && hostState.len() == 0 {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type roundReport struct {
	Round                int    `json:"round"`
	Entries              int    `json:"entries"`
	Pending              int    `json:"pending"`
	Worker               string `json:"worker"`
	Hits                 uint64 `json:"hits"`
	Misses               uint64 `json:"misses"`
	Constructions        uint64 `json:"constructions"`
	ConstructionFailures uint64 `json:"construction_failures"`
	Reclaimed            uint64 `json:"reclaimed"`
	StaleNotifications   uint64 `json:"stale_notifications"`
	TeardownFailures     uint64 `json:"teardown_failures"`
}

func newRoundReport(round int, s cache.Stats) roundReport {
	return roundReport{
		Round:                round,
		Entries:              s.Entries,
		Pending:              s.Pending,
		Worker:               s.Worker.String(),
		Hits:                 s.Hits,
		Misses:               s.Misses,
		Constructions:        s.Constructions,
		ConstructionFailures: s.ConstructionFailures,
		Reclaimed:            s.Reclaimed,
		StaleNotifications:   s.StaleNotifications,
		TeardownFailures:     s.TeardownFailures,
	}
}
