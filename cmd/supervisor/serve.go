package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/api"
	"github.com/xpadev-net/watchlist-supervisor/internal/capture"
	"github.com/xpadev-net/watchlist-supervisor/internal/config"
	"github.com/xpadev-net/watchlist-supervisor/internal/db"
	"github.com/xpadev-net/watchlist-supervisor/internal/ffmpeg"
	"github.com/xpadev-net/watchlist-supervisor/internal/lifecycle"
	"github.com/xpadev-net/watchlist-supervisor/internal/livestatus"
	"github.com/xpadev-net/watchlist-supervisor/internal/log"
	"github.com/xpadev-net/watchlist-supervisor/internal/metrics"
	"github.com/xpadev-net/watchlist-supervisor/internal/notify"
	"github.com/xpadev-net/watchlist-supervisor/internal/supervisor"
	"github.com/xpadev-net/watchlist-supervisor/internal/upstream"
	"github.com/xpadev-net/watchlist-supervisor/internal/watcher"
	"github.com/xpadev-net/watchlist-supervisor/internal/webhook"
)

var serveOnce bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poll loop and the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveOnce, "once", false, "run a single poll iteration and exit")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSupervisorConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := log.Init(cfg.Environment, cfg.LogLevel); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting watchlist supervisor",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Port),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("once", serveOnce),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		return err
	}
	defer database.Close()

	if cfg.MigrateOnBoot {
		if err := database.Migrate(ctx); err != nil {
			log.Error("failed to run migrations", zap.Error(err))
			return err
		}
	}

	repo := db.NewStreamRepository(database)
	m := metrics.New()

	tasks := supervisor.New()
	tasks.OnChange(m.SetActiveRecordings)

	prober := ffmpeg.NewProber(cfg.FFprobePath, cfg.ChunkDir)
	if err := prober.EnsureChunkDir(); err != nil {
		log.Error("failed to create chunk directory", zap.String("dir", cfg.ChunkDir), zap.Error(err))
		return err
	}

	video := upstream.NewVideoSource(cfg.VideoBaseURL, cfg.OwnerUserID, cfg.SaveInterval)
	comments := upstream.NewCommentRecorder(cfg.CommentsBaseURL, cfg.OwnerUserID)

	var ingestor capture.Ingestor = upstream.NopIngestor{}
	if cfg.IngestBaseURL != "" {
		ingestor = upstream.NewHTTPIngestor(cfg.IngestBaseURL, upstream.DefaultIngestConfig())
	} else {
		log.Info("INGEST_BASE_URL not set, chunks will only be logged")
	}

	// Notification subscribers
	hub := notify.NewHub()
	broadcaster := notify.NewBroadcaster(m, hub)
	if cfg.WebhookURL != "" {
		broadcaster.Subscribe(notify.NewWebhookSubscriber(webhook.NewSender(cfg.WebhookSigningKey), cfg.WebhookURL))
		log.Info("webhook notifications enabled")
	}
	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient, err = notify.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to redis", zap.Error(err))
			return err
		}
		defer redisClient.Close()
		broadcaster.Subscribe(notify.NewRedisSubscriber(redisClient, cfg.RedisChannel))
		log.Info("redis notifications enabled", zap.String("channel", cfg.RedisChannel))
	}

	machine := lifecycle.New(lifecycle.Config{
		OwnerUserID:         cfg.OwnerUserID,
		StreamDetailBaseURL: cfg.StreamDetailBaseURL,
	}, lifecycle.Deps{
		Store:     repo,
		Tasks:     tasks,
		Video:     video,
		Comments:  comments,
		Publisher: broadcaster,
		NewCapture: func(username, streamID string) supervisor.TaskFunc {
			return capture.NewTask(capture.Deps{
				Source:    video,
				Ingestor:  ingestor,
				Prober:    prober,
				Store:     repo,
				Metrics:   m,
				ChunkSize: cfg.ChunkSize,
			}, username, streamID).Run
		},
		Metrics: m,
	})

	loop := watcher.New(watcher.Config{
		PollInterval:     cfg.PollInterval,
		ProbeTimeout:     cfg.ProbeTimeout,
		ProbeConcurrency: cfg.ProbeConcurrency,
		ProbeRatePerSec:  cfg.ProbeRatePerSec,
	}, repo, livestatus.NewClient(cfg.StatusBaseURL, cfg.ProbeTimeout), machine, tasks, m)

	if serveOnce {
		summary := loop.RunOnce(ctx)
		log.Info("single poll iteration finished",
			zap.Int("checked", summary.Checked),
			zap.Int("started", summary.Started),
			zap.Int("restarted", summary.Restarted),
			zap.Int("ended", summary.Ended),
			zap.Int("probe_failures", summary.ProbeFailures),
			zap.Int("errors", summary.Errors),
		)
		shutdown(cfg.ShutdownTimeout, nil, tasks, broadcaster, hub)
		return nil
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(repo, tasks, database)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimit:     cfg.APIRateLimit,
		Metrics:       m,
		Notifications: hub.ServeWS,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
		runErr = err
		stop()
	}

	if err := <-loopDone; err != nil {
		log.Error("poll loop failed", zap.Error(err))
	}
	shutdown(cfg.ShutdownTimeout, srv, tasks, broadcaster, hub)

	log.Info("watchlist supervisor stopped")
	return runErr
}

// shutdown stops capture tasks, then drains the HTTP server and pending
// notifications. Sessions stay active and are resumed on the next boot.
func shutdown(timeout time.Duration, srv *http.Server, tasks *supervisor.Supervisor, broadcaster *notify.Broadcaster, hub *notify.Hub) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := tasks.Shutdown(ctx); err != nil {
		log.Error("capture tasks did not stop in time", zap.Error(err))
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
	}

	broadcaster.Wait()
	hub.Close()
}
