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
// パイプラインとHardcoverクライアントから利用する。
type MetricsCollector interface {
	// RecordProviderRequest はHardcover APIの呼び出し結果を記録する。通信失敗時のstatusCodeは0。
	RecordProviderRequest(operation string, statusCode int, duration time.Duration)
	RecordMatch(method string)
	RecordBookWrite(action string)
	RecordRecordError(step string)
	RecordSessionsInserted(count int)
	RecordRunCompleted(kind, status string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerRequests *prometheus.CounterVec
	providerLatency  prometheus.Histogram
	matches          *prometheus.CounterVec
	bookWrites       *prometheus.CounterVec
	recordErrors     *prometheus.CounterVec
	sessionsInserted prometheus.Counter
	runs             *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookhelper_provider_requests_total",
			Help: "Hardcover API呼び出し数（操作・ステータス別）",
		}, []string{"operation", "status_code"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookhelper_provider_latency_seconds",
			Help:    "Hardcover API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookhelper_matches_total",
			Help: "照合方法別の書籍照合数",
		}, []string{"method"}),
		bookWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookhelper_book_writes_total",
			Help: "書籍の書き込み数（inserted/enriched）",
		}, []string{"action"}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookhelper_record_errors_total",
			Help: "ステップ別のレコード単位エラー数",
		}, []string{"step"}),
		sessionsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookhelper_sessions_inserted_total",
			Help: "挿入された読書セッションの合計数",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookhelper_runs_total",
			Help: "種別・結果別のバッチ実行数",
		}, []string{"kind", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookhelper_run_duration_seconds",
			Help:    "バッチ実行の所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.providerRequests,
		c.providerLatency,
		c.matches,
		c.bookWrites,
		c.recordErrors,
		c.sessionsInserted,
		c.runs,
		c.runDuration,
	)

	return c
}

// RecordProviderRequest はAPI呼び出しを記録する。
func (c *Collector) RecordProviderRequest(operation string, statusCode int, duration time.Duration) {
	c.providerRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	c.providerLatency.Observe(duration.Seconds())
}

// RecordMatch は照合結果を記録する。
func (c *Collector) RecordMatch(method string) {
	c.matches.WithLabelValues(method).Inc()
}

// RecordBookWrite は書籍の書き込みを記録する。
func (c *Collector) RecordBookWrite(action string) {
	c.bookWrites.WithLabelValues(action).Inc()
}

// RecordRecordError はレコード単位のエラーを記録する。
func (c *Collector) RecordRecordError(step string) {
	c.recordErrors.WithLabelValues(step).Inc()
}

// RecordSessionsInserted は挿入されたセッション数を記録する。
func (c *Collector) RecordSessionsInserted(count int) {
	c.sessionsInserted.Add(float64(count))
}

// RecordRunCompleted はバッチ実行の完了を記録する。
func (c *Collector) RecordRunCompleted(kind, status string, duration time.Duration) {
	c.runs.WithLabelValues(kind, status).Inc()
	c.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス不要な実行で使う。
type Nop struct{}

func (Nop) RecordProviderRequest(string, int, time.Duration) {}
func (Nop) RecordMatch(string)                               {}
func (Nop) RecordBookWrite(string)                           {}
func (Nop) RecordRecordError(string)                         {}
func (Nop) RecordSessionsInserted(int)                       {}
func (Nop) RecordRunCompleted(string, string, time.Duration) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
