package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/model"
)

// Connection はRabbitMQ接続を保持し、切断時は次回利用時に再接続する。
type Connection struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
}

// Dial はRabbitMQに接続し、永続キューを宣言する。
func Dial(url, queue string) (*Connection, error) {
	c := &Connection{url: url, queue: queue}
	if _, err := c.channel(); err != nil {
		return nil, err
	}
	return c, nil
}

// channel は接続が切れていれば再接続し、キュー宣言済みのチャネルを返す。
func (c *Connection) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}
	return ch, nil
}

// Close は接続を閉じる。
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

// Publisher はクリックイベントをキューへ発行する。recorder.Appenderとして使う。
type Publisher struct {
	conn *Connection

	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher はPublisherを生成する。
func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{conn: conn}
}

// Append はイベントを永続メッセージとして発行する。
// 発行に失敗したチャネルは破棄し、次回は新しいチャネルを開く。
func (p *Publisher) Append(ctx context.Context, event *model.ClickEvent) error {
	body, err := EncodeClick(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.conn.channel()
		if err != nil {
			return err
		}
		p.ch = ch
	}

	err = p.ch.PublishWithContext(ctx, "", p.conn.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Body:         body,
	})
	if err != nil {
		p.ch.Close()
		p.ch = nil
		return fmt.Errorf("failed to publish click message: %w", err)
	}
	return nil
}

// FailureReason は発行失敗をpublishとしてメトリクスに記録させる。
func (p *Publisher) FailureReason() string {
	return metrics.ClickFailPublish
}

// Close は発行用チャネルを閉じる。
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// ClickHandler は消費したクリックイベントを処理する。
// 再配信しても成功しない失敗はErrPermanentをラップして返す。
type ClickHandler func(ctx context.Context, event *model.ClickEvent) error

// ErrPermanent は再配信しても記録できないクリックイベントを表す。
// このエラーで失敗したメッセージは再キューせずに破棄する。
var ErrPermanent = errors.New("click event permanently rejected")

// Consumer はキューからクリックイベントを消費する。
type Consumer struct {
	conn     *Connection
	handler  ClickHandler
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	prefetch int
}

// NewConsumer はConsumerを生成する。prefetchが0以下の場合は1を使う。
// mがnilの場合はメトリクスを記録しない。
func NewConsumer(conn *Connection, handler ClickHandler, m metrics.MetricsCollector, logger *slog.Logger, prefetch int) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Consumer{conn: conn, handler: handler, metrics: m, logger: logger, prefetch: prefetch}
}

// Run はctxがキャンセルされるまでメッセージを消費する。
// 各メッセージは処理成功でack、一時的なストア失敗でnack（再キュー）、
// 不正な本文と恒久的な失敗はnack（破棄）する。
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.conn.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("クリックキューの消費を開始しました",
		slog.String("queue", c.conn.queue),
		slog.Int("prefetch", c.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("クリックキューの消費を停止しました")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery は1メッセージを処理し、結果に応じてack/nackする。
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	event, err := DecodeClick(d.Body)
	if err != nil {
		c.logger.Error("不正なクリックメッセージを破棄しました",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordClickFailed(metrics.ClickFailMalformed)
		c.nack(d, false)
		return
	}

	if err := c.handler(ctx, event); err != nil {
		if errors.Is(err, ErrPermanent) {
			c.logger.Error("記録できないクリックイベントを破棄しました",
				slog.String("event_id", event.ID),
				slog.String("link_id", event.LinkID),
				slog.String("error", err.Error()),
			)
			c.metrics.RecordClickFailed(metrics.ClickFailRejected)
			c.nack(d, false)
			return
		}
		c.logger.Error("クリックイベントの記録に失敗しました。再キューします",
			slog.String("event_id", event.ID),
			slog.String("link_id", event.LinkID),
			slog.Bool("redelivered", d.Redelivered),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordClickFailed(metrics.ClickFailStore)
		c.nack(d, true)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("ackに失敗しました",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.metrics.RecordClickRecorded()
}

func (c *Consumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Error("nackに失敗しました",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()),
		)
	}
}
