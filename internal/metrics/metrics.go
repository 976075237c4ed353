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
// イベント処理層や書類生成、ワーカーから利用する。
type MetricsCollector interface {
	RecordEvent(eventType string)
	RecordEventDropped(reason string)
	RecordTransition(state string)
	RecordVersionConflict()
	RecordAssembly(docType string, success bool, duration time.Duration)
	RecordSendFailure()
	RecordHTTPStatus(statusCode int)
	RecordDocumentsPruned(count int64)
}

// イベントを処理しなかった理由。
const (
	DropDuplicate   = "duplicate"
	DropRateLimited = "rate_limited"
	DropLock        = "lock"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	events           *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	versionConflicts prometheus.Counter
	documents        *prometheus.CounterVec
	assemblyLatency  prometheus.Histogram
	sendFailures     prometheus.Counter
	httpStatus       *prometheus.CounterVec
	documentsPruned  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_events_total",
			Help: "受信したWebhookイベントの合計数",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_events_dropped_total",
			Help: "処理せずに破棄したイベントの合計数",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_state_transitions_total",
			Help: "会話処理後の状態別の件数",
		}, []string{"state"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbot_session_version_conflicts_total",
			Help: "セッション更新の競合による再試行の合計数",
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_documents_generated_total",
			Help: "書類生成の合計数",
		}, []string{"document_type", "result"}),
		assemblyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docbot_assembly_latency_seconds",
			Help:    "書類生成のレイテンシ（秒）",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80},
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbot_send_failures_total",
			Help: "メッセージ送信失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		documentsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docbot_documents_pruned_total",
			Help: "保持期間を過ぎて削除した生成履歴の合計数",
		}),
	}

	reg.MustRegister(
		c.events,
		c.eventsDropped,
		c.transitions,
		c.versionConflicts,
		c.documents,
		c.assemblyLatency,
		c.sendFailures,
		c.httpStatus,
		c.documentsPruned,
	)

	return c
}

// RecordEvent は受信イベントを記録する。
func (c *Collector) RecordEvent(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// RecordEventDropped は破棄したイベントを記録する。
func (c *Collector) RecordEventDropped(reason string) {
	c.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordTransition は処理後の状態を記録する。
func (c *Collector) RecordTransition(state string) {
	c.transitions.WithLabelValues(state).Inc()
}

// RecordVersionConflict はセッション更新の競合を記録する。
func (c *Collector) RecordVersionConflict() {
	c.versionConflicts.Inc()
}

// RecordAssembly は書類生成の結果とレイテンシを記録する。
func (c *Collector) RecordAssembly(docType string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.documents.WithLabelValues(docType, result).Inc()
	c.assemblyLatency.Observe(duration.Seconds())
}

// RecordSendFailure は送信失敗を記録する。
func (c *Collector) RecordSendFailure() {
	c.sendFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDocumentsPruned は削除した履歴の件数を記録する。
func (c *Collector) RecordDocumentsPruned(count int64) {
	c.documentsPruned.Add(float64(count))
}

// Nop は何も記録しない MetricsCollector。
type Nop struct{}

func (Nop) RecordEvent(string) {}
func (Nop) RecordEventDropped(string) {}
func (Nop) RecordTransition(string) {}
func (Nop) RecordVersionConflict() {}
func (Nop) RecordAssembly(string, bool, time.Duration) {}
func (Nop) RecordSendFailure() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordDocumentsPruned(int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
