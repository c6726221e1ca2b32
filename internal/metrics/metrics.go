// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// リダイレクト結果のラベル値
const (
	RedirectHit      = "hit"
	RedirectCacheHit = "cache_hit"
	RedirectNotFound = "not_found"
	RedirectError    = "error"
)

// クリック記録失敗理由のラベル値
const (
	ClickFailQueueFull = "queue_full"
	ClickFailStore     = "store"
	ClickFailPublish   = "publish"
	ClickFailClosed    = "closed"
	ClickFailMalformed = "malformed"
	ClickFailRejected  = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やクリック記録ワーカーから利用する。
type MetricsCollector interface {
	RecordLinkCreated()
	RecordCodeCollision()
	RecordRedirect(result string)
	RecordClickRecorded()
	RecordClickFailed(reason string)
	RecordClickAppendLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	linksCreated   prometheus.Counter
	codeCollisions prometheus.Counter
	redirects      *prometheus.CounterVec
	clicksRecorded prometheus.Counter
	clicksFailed   *prometheus.CounterVec
	appendLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		linksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortlink_links_created_total",
			Help: "作成された短縮リンクの合計数",
		}),
		codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortlink_code_collisions_total",
			Help: "短縮コード衝突による再生成の合計数",
		}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shortlink_redirects_total",
			Help: "結果別のリダイレクト要求数",
		}, []string{"result"}),
		clicksRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortlink_clicks_recorded_total",
			Help: "永続化されたクリックイベントの合計数",
		}),
		clicksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shortlink_clicks_failed_total",
			Help: "理由別の記録に失敗したクリックイベント数",
		}, []string{"reason"}),
		appendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shortlink_click_append_seconds",
			Help:    "クリックイベント追記のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.linksCreated,
		c.codeCollisions,
		c.redirects,
		c.clicksRecorded,
		c.clicksFailed,
		c.appendLatency,
	)

	return c
}

// RecordLinkCreated は短縮リンク作成を記録する。
func (c *Collector) RecordLinkCreated() {
	c.linksCreated.Inc()
}

// RecordCodeCollision は短縮コード衝突を記録する。
func (c *Collector) RecordCodeCollision() {
	c.codeCollisions.Inc()
}

// RecordRedirect はリダイレクト結果を記録する。
func (c *Collector) RecordRedirect(result string) {
	c.redirects.WithLabelValues(result).Inc()
}

// RecordClickRecorded はクリックイベントの永続化成功を記録する。
func (c *Collector) RecordClickRecorded() {
	c.clicksRecorded.Inc()
}

// RecordClickFailed はクリックイベントの記録失敗を記録する。
func (c *Collector) RecordClickFailed(reason string) {
	c.clicksFailed.WithLabelValues(reason).Inc()
}

// RecordClickAppendLatency はクリックイベント追記のレイテンシを記録する。
func (c *Collector) RecordClickAppendLatency(duration time.Duration) {
	c.appendLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで使う。
type Nop struct{}

func (Nop) RecordLinkCreated()                     {}
func (Nop) RecordCodeCollision()                   {}
func (Nop) RecordRedirect(string)                  {}
func (Nop) RecordClickRecorded()                   {}
func (Nop) RecordClickFailed(string)               {}
func (Nop) RecordClickAppendLatency(time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
