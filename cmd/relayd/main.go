package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Devdeo/devv/internal/alerts"
	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/events"
	"github.com/Devdeo/devv/internal/marketdata"
	"github.com/Devdeo/devv/internal/metrics"
	"github.com/Devdeo/devv/internal/middleware"
	"github.com/Devdeo/devv/internal/routes"
	"github.com/Devdeo/devv/internal/server"
	"github.com/Devdeo/devv/internal/services"
	"github.com/Devdeo/devv/internal/util"
)

func main() {
	godotenv.Load()
	config.Load()
	setupLogging()

	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Upload videos and relay them to live-streaming platforms",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), checkCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("relayd failed")
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil || config.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if !config.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that ffmpeg is installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !util.CheckDependencies(config.FFmpegPath) {
				return errors.New("missing required dependencies")
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newStore(ctx context.Context) (services.ContentStore, error) {
	switch config.StorageBackend {
	case "", "disk":
		return services.NewDiskStore(config.UploadDir, config.WriteChunkSize)
	case "minio":
		return services.NewMinioStore(ctx, config.MinioEndpoint, config.MinioAccessKey,
			config.MinioSecretKey, config.MinioBucket, config.MinioSecure)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.StorageBackend)
	}
}

func newPublisher(ctx context.Context) events.Publisher {
	if config.AMQPURL == "" {
		return events.Nop{}
	}
	pub, err := events.NewAMQPPublisher(ctx, config.AMQPURL, config.AMQPExchange)
	if err != nil {
		log.Error().Err(err).Msg("lifecycle events disabled, broker unreachable")
		return events.Nop{}
	}
	log.Info().Str("exchange", config.AMQPExchange).Msg("publishing lifecycle events")
	return pub
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server.PrintBanner()
	if !util.CheckDependencies(config.FFmpegPath) {
		log.Warn().Str("ffmpeg", config.FFmpegPath).Msg("ffmpeg missing, streams will fail to start")
	}

	if err := util.EnsureDirs(config.UploadDir, config.LogDir); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	// nothing survives a restart, so leftover uploads can never be streamed
	if n, err := util.ClearDir(config.UploadDir); err != nil {
		log.Warn().Err(err).Msg("could not clear upload directory")
	} else if n > 0 {
		log.Info().Int("files", n).Msg("removed orphaned uploads")
	}

	store, err := newStore(ctx)
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	publisher := newPublisher(ctx)
	m := metrics.New()

	sched := services.NewScheduler()
	pipeline := services.NewPipeline(store, services.NewAssetIndex(), services.NewDedupIndex(), sched, services.PipelineOptions{
		Retention: config.RetentionWindow,
		Events:    publisher,
		Metrics:   m,
	})

	supOpts := services.DefaultSupervisorOptions()
	supOpts.Events = publisher
	supOpts.Metrics = m
	supervisor := services.NewSupervisor(pipeline, services.NewRegistry(), supOpts)

	marketOpts := marketdata.Options{
		CacheTTL:  config.MarketCacheTTL,
		CookieTTL: config.MarketCookieTTL,
		Timeout:   config.MarketTimeout,
		Metrics:   m,
	}
	if util.HasProxy() {
		marketOpts.Proxy = util.ProxyFromPool
	}

	limiter := middleware.NewLimiter(config.RateLimitWindow, config.RateLimitMax)
	limiter.StartCleanup(ctx)
	util.StartDiskSpaceWatch(ctx, config.UploadDir, time.Minute, config.DiskSpaceMinGB, alerts.DiskSpaceLow)

	srv := server.New(server.Options{
		Deps: &routes.Deps{
			Pipeline:   pipeline,
			Supervisor: supervisor,
			Market:     marketdata.NewClient(config.MarketBaseURL, marketOpts),
			UploadDir:  config.UploadDir,
			DiskMinGB:  config.DiskSpaceMinGB,
		},
		Metrics:  m,
		Limiter:  limiter,
		CORSFile: "cors-origins.txt",
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", config.EnvMode).Str("storage", config.StorageBackend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	alerts.ServerStarted()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Int("active_sessions", supervisor.ActiveCount()).Msg("shutting down")
	alerts.ServerStopping(supervisor.ActiveCount())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("some sessions did not stop in time")
	}
	pipeline.Wait()
	sched.Stop()
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("closing event publisher")
	}
	log.Info().Msg("bye")
	return nil
}
