// Command multiview は 1 枚の画像から多視点画像を合成し、3D 再構成を行います。
//
//	multiview serve [-config path]
//	multiview generate [-config path] [-o out.ply] [-seed n] <image-uri>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/shouni/multiview-image-kit/internal/config"
	"github.com/shouni/multiview-image-kit/internal/metrics"
	"github.com/shouni/multiview-image-kit/internal/server"
	"github.com/shouni/multiview-image-kit/internal/storage"
	"github.com/shouni/multiview-image-kit/pkg/adapters"
	"github.com/shouni/multiview-image-kit/pkg/domain"
	"github.com/shouni/multiview-image-kit/pkg/generator"
	"github.com/shouni/multiview-image-kit/pkg/seed"
)

const (
	usage            = "usage: multiview <serve|generate> [flags]"
	metricsNamespace = "multiview"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, os.Args[2:])
	default:
		err = errors.New(usage)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app は起動済みのパイプラインと付随するコンポーネントです。
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	orch      *generator.Orchestrator
	collector *metrics.Collector
	registry  *prometheus.Registry
	fetcher   adapters.HTTPClient
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	model, err := adapters.NewGenAIModel(ctx, cfg.Editor.APIKey)
	if err != nil {
		return nil, err
	}
	editor, err := adapters.NewGeminiEditor(model, cfg.Editor.Model, adapters.GeminiEditorOptions{
		Compress: cfg.Editor.Compress,
		Quality:  cfg.Editor.Quality,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	var client httpkit.ClientInterface = httpkit.New(cfg.Reconstructor.Timeout)

	var remover generator.BackgroundRemover
	switch cfg.Remover.Backend {
	case config.RemoverColorKey:
		remover = adapters.NewColorKeyRemover(cfg.Remover.Tolerance)
	default:
		if remover, err = adapters.NewHTTPRemover(client, cfg.Remover.URL, logger); err != nil {
			return nil, err
		}
	}
	reconstructor, err := adapters.NewHTTPReconstructor(client, cfg.Reconstructor.URL, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := seed.NewResolver(cfg.Pipeline.SeedLow, cfg.Pipeline.SeedHigh)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, fetcher: client}
	opts := []generator.Option{
		generator.WithLogger(logger),
		generator.WithSeedResolver(resolver),
	}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.collector = metrics.NewCollector(metricsNamespace, a.registry)
		opts = append(opts, generator.WithRecorder(a.collector))
	}
	if cfg.Pipeline.SaveGeneratedFiles {
		store, err := storage.NewFileStore(cfg.Pipeline.OutputDir, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, generator.WithArtifactSink(store))
	}

	a.orch, err = generator.NewOrchestrator(editor, remover, reconstructor, cfg.PipelineOptions(), opts...)
	if err != nil {
		return nil, err
	}
	if err := a.orch.Start(ctx); err != nil {
		return nil, fmt.Errorf("パイプラインの起動に失敗しました: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.orch.Stop(ctx); err != nil {
		a.logger.Error("パイプラインの停止に失敗しました", "error", err)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "YAML 設定ファイル")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*path)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	opts := server.Options{
		Logger:         a.logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	if a.collector != nil {
		opts.Recorder = a.collector
		opts.MetricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}
	srv, err := server.New(a.orch, opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP サーバーを起動しました", "addr", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("シャットダウンします")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	out := fs.String("o", "model.ply", "出力する PLY のパス")
	seedFlag := fs.Int64("seed", -1, "シード (負の値は自動選択)")
	allowPrivate := fs.Bool("allow-private", false, "プライベートネットワーク宛ての URL を許可する")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: multiview generate [flags] <image-uri>")
	}
	uri := fs.Arg(0)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	reader := adapters.NewFileReader(a.fetcher, *allowPrivate)
	data, err := adapters.ReadAll(ctx, reader, uri)
	if err != nil {
		return fmt.Errorf("入力画像の読み込みに失敗しました: %w", err)
	}

	res, err := a.orch.Generate(ctx, domain.GenerationRequest{Image: data, Seed: *seedFlag})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, res.Artifact, 0o644); err != nil {
		return fmt.Errorf("成果物の書き込みに失敗しました: %w", err)
	}
	a.logger.Info("生成が完了しました",
		"output", *out,
		"seed", res.Seed,
		"elapsed", res.Elapsed,
		"consistent", res.Report.Passed,
	)
	return nil
}
