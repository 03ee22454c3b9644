// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 検索の結果種別
const (
	SearchExecuted = "executed"
	SearchSkipped  = "skipped"
	SearchStale    = "stale"
	SearchFailed   = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordSearch(outcome string)
	RecordSearchLatency(duration time.Duration)
	RecordSavedToggle(action string, ok bool)
	RecordListingCreated()
	RecordListingDeleted(byAdmin bool)
	RecordImageUpload(backend string, size int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	searches        *prometheus.CounterVec
	searchLatency   prometheus.Histogram
	savedToggles    *prometheus.CounterVec
	listingsCreated prometheus.Counter
	listingsDeleted *prometheus.CounterVec
	imageUploads    *prometheus.CounterVec
	imageBytes      prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuzamarket_searches_total",
			Help: "結果種別ごとの検索リクエスト数",
		}, []string{"outcome"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kuzamarket_search_latency_seconds",
			Help:    "検索クエリのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		savedToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuzamarket_saved_toggles_total",
			Help: "保存トグルの操作数",
		}, []string{"action", "result"}),
		listingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kuzamarket_listings_created_total",
			Help: "作成された出品の合計数",
		}),
		listingsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuzamarket_listings_deleted_total",
			Help: "削除された出品の合計数",
		}, []string{"actor"}),
		imageUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuzamarket_image_uploads_total",
			Help: "ストレージ種別ごとの画像アップロード数",
		}, []string{"backend"}),
		imageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kuzamarket_image_upload_bytes_total",
			Help: "アップロードされた画像の合計バイト数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuzamarket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.searches,
		c.searchLatency,
		c.savedToggles,
		c.listingsCreated,
		c.listingsDeleted,
		c.imageUploads,
		c.imageBytes,
		c.httpStatus,
	)

	return c
}

// RecordSearch は検索の結果種別を記録する。
func (c *Collector) RecordSearch(outcome string) {
	c.searches.WithLabelValues(outcome).Inc()
}

// RecordSearchLatency は検索クエリのレイテンシを記録する。
func (c *Collector) RecordSearchLatency(duration time.Duration) {
	c.searchLatency.Observe(duration.Seconds())
}

// RecordSavedToggle は保存トグルを記録する。失敗時はロールバックとして数える。
func (c *Collector) RecordSavedToggle(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "rolled_back"
	}
	c.savedToggles.WithLabelValues(action, result).Inc()
}

// RecordListingCreated は出品作成を記録する。
func (c *Collector) RecordListingCreated() {
	c.listingsCreated.Inc()
}

// RecordListingDeleted は出品削除を記録する。
func (c *Collector) RecordListingDeleted(byAdmin bool) {
	actor := "owner"
	if byAdmin {
		actor = "admin"
	}
	c.listingsDeleted.WithLabelValues(actor).Inc()
}

// RecordImageUpload は画像アップロードを記録する。
func (c *Collector) RecordImageUpload(backend string, size int64) {
	c.imageUploads.WithLabelValues(backend).Inc()
	if size > 0 {
		c.imageBytes.Add(float64(size))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやワーカーで使う。
type Nop struct{}

func (Nop) RecordSearch(string) {}
func (Nop) RecordSearchLatency(time.Duration) {}
func (Nop) RecordSavedToggle(string, bool) {}
func (Nop) RecordListingCreated() {}
func (Nop) RecordListingDeleted(bool) {}
func (Nop) RecordImageUpload(string, int64) {}
func (Nop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
