package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/shortlink/internal/analytics"
	"github.com/hitoshi/shortlink/internal/auth"
	"github.com/hitoshi/shortlink/internal/cache"
	"github.com/hitoshi/shortlink/internal/config"
	"github.com/hitoshi/shortlink/internal/handler"
	"github.com/hitoshi/shortlink/internal/link"
	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/queue"
	"github.com/hitoshi/shortlink/internal/recorder"
	"github.com/hitoshi/shortlink/internal/repository"
	"github.com/hitoshi/shortlink/internal/shortcode"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行い、
// 最後に未記録のクリックイベントを書き切る。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db, cfg.StoreTimeout)
	linkRepo := repository.NewPostgresLinkRepo(db, cfg.StoreTimeout)
	clickRepo := repository.NewPostgresClickRepo(db, cfg.StoreTimeout)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. クリック記録の初期化
	appender, closeAppender, err := newClickAppender(cfg, clickRepo)
	if err != nil {
		return err
	}
	defer closeAppender()

	clickRecorder := recorder.New(appender, collector, slog.Default(), recorderConfig(cfg))
	clickRecorder.Start()

	// 5. ドメインサービスの初期化
	linkOpts := []link.Option{
		link.WithMetrics(collector),
		link.WithMaxAttempts(cfg.ShortCodeMaxAttempts),
	}
	var cachePinger handler.CachePinger
	if linkCache := connectCache(cfg); linkCache != nil {
		defer linkCache.Close()
		linkOpts = append(linkOpts, link.WithCache(linkCache))
		cachePinger = linkCache
	}

	authService := auth.NewService(accountRepo, auth.ServiceConfig{
		JWTSecret:     cfg.JWTSecret,
		JWTExpiration: cfg.JWTExpiration,
		BcryptCost:    cfg.BcryptCost,
	})
	linkService := link.NewService(linkRepo, shortcode.NewRandomGenerator(), clickRecorder, linkOpts...)
	analyticsService := analytics.NewService(linkRepo, clickRepo)

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		BaseURL:           cfg.BaseURL,
		AuthService:       authService,
		LinkService:       linkService,
		AnalyticsService:  analyticsService,
		DB:                db,
		Cache:             cachePinger,
		MetricsHandler:    metrics.Handler(registry),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = clickRecorder.Close(context.Background())
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if err := clickRecorder.Close(shutdownCtx); err != nil {
		slog.Error("click recorder did not drain",
			slog.Int("pending", clickRecorder.Pending()),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newClickAppender はCLICK_QUEUE_MODEに応じたクリックイベントの追記先を返す。
// memoryモードはDBへ直接記録し、amqpモードはRabbitMQへ発行する。
func newClickAppender(cfg *config.Config, clicks repository.ClickRepository) (recorder.Appender, func(), error) {
	switch cfg.ClickQueueMode {
	case config.ClickQueueAMQP:
		conn, err := queue.Dial(cfg.AMQPURL, cfg.ClickQueueName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to click queue: %w", err)
		}
		publisher := queue.NewPublisher(conn)
		slog.Info("click events are published to queue", slog.String("queue", cfg.ClickQueueName))
		return publisher, func() {
			closeQuietly("click publisher", publisher)
			closeQuietly("click queue connection", conn)
		}, nil
	default:
		return recorder.NewStoreAppender(clicks), func() {}, nil
	}
}

// recorderConfig は設定値からRecorderの設定を組み立てる。
func recorderConfig(cfg *config.Config) recorder.Config {
	return recorder.Config{
		QueueSize:  cfg.ClickQueueSize,
		Workers:    cfg.ClickWorkers,
		MaxRetries: cfg.ClickMaxRetries,
		RetryRate:  rate.Limit(cfg.ClickRetryRate),
	}
}

// connectCache はREDIS_URLが設定されていればリダイレクトキャッシュに接続する。
// 接続できない場合はキャッシュなしで起動する。
func connectCache(cfg *config.Config) *cache.LinkCache {
	if cfg.RedisURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()

	linkCache, err := cache.Connect(ctx, cfg.RedisURL, cfg.LinkCacheTTL)
	if err != nil {
		slog.Warn("link cache unavailable, continuing without cache", slog.String("error", err.Error()))
		return nil
	}
	slog.Info("link cache connected", slog.Duration("ttl", cfg.LinkCacheTTL))
	return linkCache
}

func closeQuietly(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close "+name, slog.String("error", err.Error()))
	}
}
