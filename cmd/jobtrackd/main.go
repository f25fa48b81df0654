// Command jobtrackd runs the voice job-application tracker gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobtrack-ai/jobtrack/internal/dotenv"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/config"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/lifecycle"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/sessions"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/server"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/tools/trackertools"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
	"github.com/jobtrack-ai/jobtrack/pkg/telemetry"
	"github.com/jobtrack-ai/jobtrack/pkg/tracker"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config) (tracker.Store, func(), error)
	buildAgents  func(ctx context.Context, cfg config.Config, tools *trackertools.Registry) ([]pipeline.Agent, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig:  config.LoadFromEnv,
		openStore:   openStore,
		buildAgents: buildAgents,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config) (tracker.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return tracker.NewMemoryStore(), func() {}, nil
	}
	store, err := tracker.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func buildAgents(ctx context.Context, cfg config.Config, tools *trackertools.Registry) ([]pipeline.Agent, error) {
	client, err := pipeline.NewGeminiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return pipeline.NewAgentSet(client, pipeline.AgentSetConfig{
		Model:        cfg.GeminiModel,
		TrackerTools: tools.Definitions(),
		AnalystTools: tools.Definitions(),
	})
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func run(ctx context.Context, deps appDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.buildAgents == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewLogger(cfg)

	telemetryShutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := deps.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := tracker.NewEngine(store, logger)
	tools := trackertools.NewDefaultRegistry(engine, logger)

	agents, err := deps.buildAgents(ctx, cfg, tools)
	if err != nil {
		return err
	}

	lc := &lifecycle.Lifecycle{}
	live := sessions.NewTracker()

	gw, err := server.New(server.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Engine:      engine,
		Tools:       tools,
		Agents:      agents,
		Transcriber: pipeline.NewCartesiaTranscriber(cfg.CartesiaAPIKey),
		Synthesizer: pipeline.NewCartesiaSynthesizer(cfg.CartesiaAPIKey, cfg.CartesiaVoiceID),
		Lifecycle:   lc,
		Sessions:    live,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpSrv := buildHTTPServer(cfg, gw.Handler())

	storeKind := "memory"
	if cfg.DatabaseURL != "" {
		storeKind = "postgres"
	}
	logger.Info("starting gateway",
		"addr", cfg.Addr, "auth_mode", cfg.AuthMode, "store", storeKind, "model", cfg.GeminiModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	lc.SetDraining(true)
	warned := live.WarnAll("draining", "gateway is draining; session will close shortly")
	logger.Info("draining live sessions", "warned", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !live.Wait(waitCtx) {
		canceled := live.CancelAll()
		logger.Warn("canceled live sessions after grace period", "canceled", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "jobtrackd: %v\n", err)
		return 1
	}

	if err := run(ctx, deps); err != nil {
		fmt.Fprintf(stderr, "jobtrackd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
