// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ・キャッシュ・ワーカーから利用する。
type MetricsCollector interface {
	RecordStoreSuccess(op string)
	RecordStoreFailure(op string)
	RecordStoreLatency(op string, duration time.Duration)
	RecordCacheLoad(source string)
	RecordCacheWriteFailure()
	RecordAuthResult(method string, success bool)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storeSuccess    *prometheus.CounterVec
	storeFail       *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	cacheLoads      *prometheus.CounterVec
	cacheWriteFail  prometheus.Counter
	authResults     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeman_store_success_total",
			Help: "リモートストア呼び出し成功の合計数",
		}, []string{"op"}),
		storeFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeman_store_fail_total",
			Help: "リモートストア呼び出し失敗の合計数",
		}, []string{"op"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recipeman_store_latency_seconds",
			Help:    "リモートストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		cacheLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeman_cache_load_total",
			Help: "キャッシュロードの取得元別の回数",
		}, []string{"source"}),
		cacheWriteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipeman_cache_write_fail_total",
			Help: "スナップショット書き込み失敗の合計数",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeman_auth_total",
			Help: "認証操作の方式・結果別の回数",
		}, []string{"method", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipeman_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.storeSuccess,
		c.storeFail,
		c.storeLatency,
		c.cacheLoads,
		c.cacheWriteFail,
		c.authResults,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordStoreSuccess はストア操作の成功を記録する。
func (c *Collector) RecordStoreSuccess(op string) {
	c.storeSuccess.WithLabelValues(op).Inc()
}

// RecordStoreFailure はストア操作の失敗を記録する。
func (c *Collector) RecordStoreFailure(op string) {
	c.storeFail.WithLabelValues(op).Inc()
}

// RecordStoreLatency はストア操作のレイテンシを記録する。
func (c *Collector) RecordStoreLatency(op string, duration time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCacheLoad はキャッシュロードの取得元を記録する。
func (c *Collector) RecordCacheLoad(source string) {
	c.cacheLoads.WithLabelValues(source).Inc()
}

// RecordCacheWriteFailure はスナップショット書き込み失敗を記録する。
func (c *Collector) RecordCacheWriteFailure() {
	c.cacheWriteFail.Inc()
}

// RecordAuthResult は認証操作の結果を記録する。
func (c *Collector) RecordAuthResult(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authResults.WithLabelValues(method, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordStoreSuccess(string) {}
func (Nop) RecordStoreFailure(string) {}
func (Nop) RecordStoreLatency(string, time.Duration) {}
func (Nop) RecordCacheLoad(string) {}
func (Nop) RecordCacheWriteFailure() {}
func (Nop) RecordAuthResult(string, bool) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
