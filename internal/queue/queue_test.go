package queue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/recorder"
)

// --- compile-time interface checks ---
var (
	_ recorder.Appender        = (*Publisher)(nil)
	_ recorder.FailureReasoner = (*Publisher)(nil)
)

// mockAcknowledger はamqp.Acknowledgerのテスト用モック。
type mockAcknowledger struct {
	acked   int
	nacked  int
	requeue bool
}

func (m *mockAcknowledger) Ack(_ uint64, _ bool) error {
	m.acked++
	return nil
}

func (m *mockAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	m.nacked++
	m.requeue = requeue
	return nil
}

func (m *mockAcknowledger) Reject(_ uint64, requeue bool) error {
	m.nacked++
	m.requeue = requeue
	return nil
}

// recordingMetrics はクリック記録結果のみを数えるMetricsCollector。
type recordingMetrics struct {
	metrics.Nop
	recorded int
	failed   map[string]int
}

func (m *recordingMetrics) RecordClickRecorded() { m.recorded++ }

func (m *recordingMetrics) RecordClickFailed(reason string) {
	if m.failed == nil {
		m.failed = map[string]int{}
	}
	m.failed[reason]++
}

const (
	testEventID = "6f1c1b1e-8a53-4c2a-9b0e-3f0a2d9c7e11"
	testLinkID  = "0b7d9a6e-2f41-4e0c-8d3b-5a1e7c9f4d22"
)

func newTestConsumer(handler ClickHandler) (*Consumer, *bytes.Buffer, *recordingMetrics) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := &recordingMetrics{}
	return NewConsumer(&Connection{queue: "click_events"}, handler, m, logger, 0), &buf, m
}

func testBody(t *testing.T) []byte {
	t.Helper()
	body, err := EncodeClick(&model.ClickEvent{ID: testEventID, LinkID: testLinkID, OccurredAt: time.Now()})
	if err != nil {
		t.Fatalf("EncodeClick failed: %v", err)
	}
	return body
}

func TestEncodeDecodeClick(t *testing.T) {
	occurred := time.Date(2024, 12, 1, 23, 59, 59, 0, time.FixedZone("JST", 9*60*60))
	event := &model.ClickEvent{ID: testEventID, LinkID: testLinkID, OccurredAt: occurred}

	body, err := EncodeClick(event)
	if err != nil {
		t.Fatalf("EncodeClick failed: %v", err)
	}
	for _, key := range []string{`"id":"` + testEventID + `"`, `"link_id":"` + testLinkID + `"`, `"occurred_at":"2024-12-01T14:59:59Z"`} {
		if !strings.Contains(string(body), key) {
			t.Errorf("body %s missing %s", body, key)
		}
	}

	decoded, err := DecodeClick(body)
	if err != nil {
		t.Fatalf("DecodeClick failed: %v", err)
	}
	if decoded.ID != event.ID || decoded.LinkID != event.LinkID || !decoded.OccurredAt.Equal(occurred) {
		t.Errorf("decoded = %+v, want %+v", decoded, event)
	}
	if decoded.OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt location = %v, want UTC", decoded.OccurredAt.Location())
	}
}

func TestDecodeClick_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "oops"},
		{"missing id", `{"link_id":"l","occurred_at":"2024-12-01T00:00:00Z"}`},
		{"missing link", `{"id":"e","occurred_at":"2024-12-01T00:00:00Z"}`},
		{"missing time", `{"id":"e","link_id":"l"}`},
		{"non-uuid ids", `{"id":"not-a-uuid","link_id":"also-not-a-uuid","occurred_at":"2024-12-01T00:00:00Z"}`},
		{"non-uuid link", fmt.Sprintf(`{"id":%q,"link_id":"l","occurred_at":"2024-12-01T00:00:00Z"}`, testEventID)},
		{"non-uuid id", fmt.Sprintf(`{"id":"e","link_id":%q,"occurred_at":"2024-12-01T00:00:00Z"}`, testLinkID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeClick([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// 処理成功でackされること
func TestConsumer_HandleDelivery_Ack(t *testing.T) {
	var got *model.ClickEvent
	c, _, m := newTestConsumer(func(_ context.Context, event *model.ClickEvent) error {
		got = event
		return nil
	})

	ack := &mockAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: testBody(t)})

	if ack.acked != 1 || ack.nacked != 0 {
		t.Errorf("acked = %d, nacked = %d", ack.acked, ack.nacked)
	}
	if got == nil || got.ID != testEventID {
		t.Errorf("handler received %+v", got)
	}
	if m.recorded != 1 {
		t.Errorf("recorded = %d, want 1", m.recorded)
	}
}

// ストア失敗時は再キュー付きでnackされること
func TestConsumer_HandleDelivery_NackRequeueOnFailure(t *testing.T) {
	c, buf, m := newTestConsumer(func(_ context.Context, _ *model.ClickEvent) error {
		return errors.New("database down")
	})

	ack := &mockAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: testBody(t)})

	if ack.acked != 0 || ack.nacked != 1 || !ack.requeue {
		t.Errorf("acked = %d, nacked = %d, requeue = %v", ack.acked, ack.nacked, ack.requeue)
	}
	if !strings.Contains(buf.String(), testEventID) {
		t.Error("expected failure log with event id")
	}
	if m.failed[metrics.ClickFailStore] != 1 {
		t.Errorf("failed = %v, want one %s", m.failed, metrics.ClickFailStore)
	}
}

// 恒久的な失敗は再配信のたびに再キューされず、1回で破棄されること
func TestConsumer_HandleDelivery_DropsPermanentFailure(t *testing.T) {
	calls := 0
	c, buf, m := newTestConsumer(func(_ context.Context, _ *model.ClickEvent) error {
		calls++
		return fmt.Errorf("%w: %w", ErrPermanent, &pq.Error{Code: "23503"})
	})

	ack := &mockAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: testBody(t)})

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if ack.acked != 0 || ack.nacked != 1 || ack.requeue {
		t.Errorf("acked = %d, nacked = %d, requeue = %v", ack.acked, ack.nacked, ack.requeue)
	}
	if m.failed[metrics.ClickFailRejected] != 1 {
		t.Errorf("failed = %v, want one %s", m.failed, metrics.ClickFailRejected)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) || !strings.Contains(buf.String(), testLinkID) {
		t.Errorf("expected ERROR log with link id, got %s", buf.String())
	}
}

// 不正な本文は再キューせずに破棄されること
func TestConsumer_HandleDelivery_DropsMalformed(t *testing.T) {
	called := false
	c, _, m := newTestConsumer(func(_ context.Context, _ *model.ClickEvent) error {
		called = true
		return nil
	})

	bodies := [][]byte{
		[]byte("{"),
		[]byte(`{"id":"not-a-uuid","link_id":"also-not-a-uuid","occurred_at":"2024-12-01T00:00:00Z"}`),
	}
	for _, body := range bodies {
		ack := &mockAcknowledger{}
		c.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})
		if ack.nacked != 1 || ack.requeue {
			t.Errorf("%s: nacked = %d, requeue = %v", body, ack.nacked, ack.requeue)
		}
	}

	if called {
		t.Error("handler must not be called for malformed message")
	}
	if m.failed[metrics.ClickFailMalformed] != len(bodies) {
		t.Errorf("failed = %v, want %d %s", m.failed, len(bodies), metrics.ClickFailMalformed)
	}
}

func TestNewConsumer_NilMetrics(t *testing.T) {
	c := NewConsumer(&Connection{queue: "click_events"}, nil, nil, slog.Default(), 2)
	if _, ok := c.metrics.(metrics.Nop); !ok {
		t.Errorf("metrics = %T, want metrics.Nop", c.metrics)
	}
}

func TestNewConsumer_DefaultPrefetch(t *testing.T) {
	c, _, _ := newTestConsumer(nil)
	if c.prefetch != 1 {
		t.Errorf("prefetch = %d, want 1", c.prefetch)
	}
}
