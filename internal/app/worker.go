package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/shortlink/internal/config"
	"github.com/hitoshi/shortlink/internal/handler"
	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/queue"
	"github.com/hitoshi/shortlink/internal/repository"
)

// runWorker はワーカーモードで起動する。
// RabbitMQのクリックキューを消費し、クリックイベントをDBに記録する。
// 運用用に/healthと/metricsをSERVER_PORTで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.ClickQueueMode != config.ClickQueueAMQP {
		return fmt.Errorf("worker requires CLICK_QUEUE_MODE=%s (got %q)", config.ClickQueueAMQP, cfg.ClickQueueMode)
	}

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリとメトリクスの初期化
	clickRepo := repository.NewPostgresClickRepo(db, cfg.StoreTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. キュー接続
	conn, err := queue.Dial(cfg.AMQPURL, cfg.ClickQueueName)
	if err != nil {
		return fmt.Errorf("failed to connect to click queue: %w", err)
	}
	defer closeQuietly("click queue connection", conn)

	consumer := queue.NewConsumer(conn, newClickHandler(clickRepo), collector, slog.Default(), cfg.ClickWorkers)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. 運用エンドポイントの起動
	opsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newWorkerOpsRouter(db, metrics.Handler(registry)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server failed", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.String("queue", cfg.ClickQueueName),
		slog.Int("prefetch", cfg.ClickWorkers),
		slog.String("ops_addr", opsServer.Addr),
	)

	if err := consumer.Run(ctx); err != nil {
		return fmt.Errorf("click consumer stopped: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerOpsRouter はワーカーの/healthと/metricsを提供するルーターを返す。
func newWorkerOpsRouter(db handler.Pinger, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(db, nil))
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	return r
}

// newClickHandler は消費したクリックイベントをストアに記録するハンドラーを返す。
// 再配信された記録済みイベントは成功として扱う。
// 不正な値や存在しないリンクへの参照は再試行しても成功しないため、queue.ErrPermanentでラップする。
func newClickHandler(clicks repository.ClickRepository) queue.ClickHandler {
	return func(ctx context.Context, event *model.ClickEvent) error {
		inserted, err := clicks.Record(ctx, event)
		if err != nil {
			if repository.IsPermanent(err) {
				return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
			}
			return fmt.Errorf("failed to record click event: %w", err)
		}
		if !inserted {
			slog.Debug("duplicate click event skipped",
				slog.String("event_id", event.ID),
				slog.String("link_id", event.LinkID),
			)
		}
		return nil
	}
}
