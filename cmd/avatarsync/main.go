// Command avatarsync runs the audio-to-blendshape synchronization service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/avatarsync/internal/blendshape"
	"github.com/normanking/avatarsync/internal/bus"
	"github.com/normanking/avatarsync/internal/config"
	"github.com/normanking/avatarsync/internal/engine"
	"github.com/normanking/avatarsync/internal/logging"
	"github.com/normanking/avatarsync/internal/observe"
	"github.com/normanking/avatarsync/internal/server"
	"github.com/normanking/avatarsync/internal/shapegen"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "avatarsync: %v\n", err)
		return 1
	}

	logger, logCloser, err := logging.New(&logging.Config{
		LogDir:  cfg.Logging.Dir,
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "avatarsync: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr).
		Str("generator", cfg.Generator.ServerURL).
		Msg("Starting avatarsync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		logger.Error().Err(err).Msg("Metrics init failed")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics shutdown error")
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Error().Err(err).Msg("Metrics setup failed")
		return 1
	}

	events := bus.NewEventBus()
	events.Subscribe(bus.EventTypeDrainFailed, func(ev bus.Event) {
		logger.Warn().Interface("data", ev.Data).Msg("Drain failed, session abandoned")
	})

	if cfg.Avatar.ModelPath != "" {
		validateAvatar(logger, cfg.Avatar.ModelPath)
	}

	gen := shapegen.NewClient(&shapegen.ClientConfig{
		ServerURL: cfg.Generator.ServerURL,
		Model:     cfg.Generator.Model,
		Timeout:   cfg.Generator.Timeout,
	}, logger)

	eng := engine.New(cfg.Engine, gen, logger, metrics, events)
	defer eng.Close()

	config.Watch(func(fresh *config.Config) {
		eng.SetConfig(fresh.Engine)
		logger.Info().
			Dur("min_drain_interval", fresh.Engine.MinDrainInterval).
			Dur("min_chunk_duration", fresh.Engine.MinChunkDuration).
			Msg("Engine tuning reloaded")
	})

	wsServer := server.NewServer(cfg.Server, eng, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(eng, gen))

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("Listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Server error")
		return 1
	}

	logger.Info().Msg("Goodbye")
	return 0
}

// validateAvatar checks that the configured mesh can express the canonical
// blendshape vocabulary. A gap is a warning, not a startup failure: weights
// for missing shapes simply won't move anything.
func validateAvatar(logger zerolog.Logger, path string) {
	names, err := blendshape.LoadMorphTargetNames(path)
	if err != nil {
		logger.Warn().Err(err).Str("model", path).Msg("Avatar model not readable, skipping validation")
		return
	}
	if missing := blendshape.ValidateModel(names); len(missing) > 0 {
		logger.Warn().
			Str("model", path).
			Strs("missing", missing).
			Msg("Avatar model does not cover the full blendshape vocabulary")
		return
	}
	logger.Info().Str("model", path).Int("targets", len(names)).Msg("Avatar model validated")
}

func healthHandler(eng *engine.Engine, gen *shapegen.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		generator := "ok"
		if err := gen.Health(ctx); err != nil {
			generator = "unreachable"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"generator": generator,
			"sessions":  eng.Snapshot(),
		})
	}
}
