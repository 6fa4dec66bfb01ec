// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 上流リクエストの結果区分
const (
	OutcomeSuccess        = "success"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeTransportError = "transport_error"
	OutcomeRateLimited    = "rate_limited"
)

// レート制限の適用箇所
const (
	ScopeUpstream = "upstream"
	ScopeIngress  = "ingress"
	ScopeFetch    = "fetch"
)

// MetricsCollector はメトリクス収集のインターフェース。
// APIクライアント、ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordUpstreamRequest(outcome string)
	RecordUpstreamLatency(duration time.Duration)
	RecordRateLimited(scope string)
	RecordHTTPStatus(statusCode int)
	RecordRowsUpserted(table string, count int)
	RecordRefreshRun(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  prometheus.Histogram
	rateLimited      *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	rowsUpserted     *prometheus.CounterVec
	refreshRuns      *prometheus.CounterVec
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redditresearch_upstream_requests_total",
			Help: "Reddit APIへのリクエスト数（結果別）",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "redditresearch_upstream_latency_seconds",
			Help:    "Reddit APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redditresearch_rate_limited_total",
			Help: "レート制限により拒否されたリクエスト数（適用箇所別）",
		}, []string{"scope"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redditresearch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redditresearch_rows_upserted_total",
			Help: "アップサートされた行数（テーブル別）",
		}, []string{"table"}),
		refreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "redditresearch_refresh_runs_total",
			Help: "定期リフレッシュの実行数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.rateLimited,
		c.httpStatus,
		c.rowsUpserted,
		c.refreshRuns,
	)

	return c
}

// RecordUpstreamRequest は上流リクエストの結果を記録する。
func (c *Collector) RecordUpstreamRequest(outcome string) {
	c.upstreamRequests.WithLabelValues(outcome).Inc()
}

// RecordUpstreamLatency は上流リクエストのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRowsUpserted はアップサートされた行数を記録する。
func (c *Collector) RecordRowsUpserted(table string, count int) {
	c.rowsUpserted.WithLabelValues(table).Add(float64(count))
}

// RecordRefreshRun は定期リフレッシュ1件の結果を記録する。
func (c *Collector) RecordRefreshRun(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.refreshRuns.WithLabelValues(result).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時の代替として使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordUpstreamRequest(string)        {}
func (Nop) RecordUpstreamLatency(time.Duration) {}
func (Nop) RecordRateLimited(string)            {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordRowsUpserted(string, int)      {}
func (Nop) RecordRefreshRun(bool)               {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StatusRecorder はHTTPステータスコードを記録するミドルウェアを返す。
func StatusRecorder(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			c.RecordHTTPStatus(sw.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
