// Package recorder はクリックイベントの非同期記録を提供する。
// リダイレクト応答をイベント永続化で待たせないため、有界キューとワーカープールで追記を行う。
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/model"
)

// Appender はクリックイベントの追記先。
// 実装はDBへの直接記録またはメッセージキューへの発行。
type Appender interface {
	Append(ctx context.Context, event *model.ClickEvent) error
}

// FailureReasoner は追記失敗時のメトリクス理由を指定するAppender。
// 実装しないAppenderの失敗はstoreとして数える。
type FailureReasoner interface {
	FailureReason() string
}

// Config はRecorderの設定。
type Config struct {
	QueueSize  int        // キューの最大長
	Workers    int        // 追記ワーカー数
	MaxRetries int        // 1イベントあたりの最大リトライ回数
	RetryRate  rate.Limit // リトライの全体レート（回/秒）
}

// DefaultConfig はデフォルトのRecorder設定を返す。
func DefaultConfig() Config {
	return Config{
		QueueSize:  1024,
		Workers:    4,
		MaxRetries: 3,
		RetryRate:  rate.Limit(5),
	}
}

// Recorder はクリックイベントを有界キューに受け付け、ワーカープールで追記する。
// キュー満杯やリトライ上限到達はERRORログとメトリクスで必ず観測可能にする。
type Recorder struct {
	appender Appender
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   Config

	queue      chan *model.ClickEvent
	limiter    *rate.Limiter
	failReason string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New はRecorderを生成する。0以下の設定値はデフォルト値で補う。
func New(appender Appender, m metrics.MetricsCollector, logger *slog.Logger, config Config) *Recorder {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryRate <= 0 {
		config.RetryRate = def.RetryRate
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	failReason := metrics.ClickFailStore
	if fr, ok := appender.(FailureReasoner); ok {
		failReason = fr.FailureReason()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		appender:   appender,
		metrics:    m,
		logger:     logger,
		config:     config,
		queue:      make(chan *model.ClickEvent, config.QueueSize),
		limiter:    rate.NewLimiter(config.RetryRate, config.Workers),
		failReason: failReason,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start は追記ワーカーを起動する。
func (r *Recorder) Start() {
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for event := range r.queue {
				r.process(event)
			}
		}()
	}

	r.logger.Info("クリック記録ワーカーを開始しました",
		slog.Int("workers", r.config.Workers),
		slog.Int("queue_size", r.config.QueueSize),
	)
}

// Submit はイベントをキューに投入する。呼び出し元をブロックしない。
// キューが満杯またはClose済みの場合はイベントを記録できなかったことをログとメトリクスに残しfalseを返す。
func (r *Recorder) Submit(event *model.ClickEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.RecordClickFailed(metrics.ClickFailClosed)
		r.logger.Error("停止済みのためクリックイベントを記録できません",
			slog.String("event_id", event.ID),
			slog.String("link_id", event.LinkID),
		)
		return false
	}

	select {
	case r.queue <- event:
		return true
	default:
		r.metrics.RecordClickFailed(metrics.ClickFailQueueFull)
		r.logger.Error("クリックキューが満杯のためイベントを破棄しました",
			slog.String("event_id", event.ID),
			slog.String("link_id", event.LinkID),
			slog.Int("queue_size", r.config.QueueSize),
		)
		return false
	}
}

// Close は受付を停止し、キューに残ったイベントの追記完了を待つ。
// ctxが先に終了した場合は残りの追記を打ち切り、ctx.Err()を返す。
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("クリック記録ワーカーを停止しました")
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		r.logger.Error("クリック記録の完了を待たずに停止しました",
			slog.String("error", ctx.Err().Error()),
		)
		return ctx.Err()
	}
}

// Pending はキューに残っているイベント数を返す。
func (r *Recorder) Pending() int {
	return len(r.queue)
}

// process は1イベントを追記する。失敗時はリミッタで間隔を空けてMaxRetries回まで再試行する。
func (r *Recorder) process(event *model.ClickEvent) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.limiter.Wait(r.ctx); err != nil {
				lastErr = err
				break
			}
		}

		start := time.Now()
		err := r.appender.Append(r.ctx, event)
		r.metrics.RecordClickAppendLatency(time.Since(start))
		if err == nil {
			r.metrics.RecordClickRecorded()
			return
		}

		lastErr = err
		r.logger.Warn("クリックイベントの追記に失敗しました",
			slog.String("event_id", event.ID),
			slog.String("link_id", event.LinkID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	r.metrics.RecordClickFailed(r.failReason)
	r.logger.Error("クリックイベントを記録できませんでした",
		slog.String("event_id", event.ID),
		slog.String("link_id", event.LinkID),
		slog.Int("max_retries", r.config.MaxRetries),
		slog.String("error", lastErr.Error()),
	)
}
