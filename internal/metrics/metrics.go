// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションマネージャーと認証イベントの監視から利用する。
type MetricsCollector interface {
	RecordVerification(outcome string, duration time.Duration)
	RecordTriggerDropped(trigger string)
	RecordProfileFetch(duration time.Duration)
	RecordSignIn(outcome string)
	RecordSignOut(outcome string)
	RecordSessionEvent(kind string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	verifications   *prometheus.CounterVec
	verifyLatency   prometheus.Histogram
	triggersDropped *prometheus.CounterVec
	profileLatency  prometheus.Histogram
	signIns         *prometheus.CounterVec
	signOuts        *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directorio_verifications_total",
			Help: "結果別のセッション検証回数",
		}, []string{"outcome"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "directorio_verification_seconds",
			Help:    "セッション検証の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		triggersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directorio_triggers_dropped_total",
			Help: "検証中のため破棄されたトリガー数",
		}, []string{"trigger"}),
		profileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "directorio_profile_fetch_seconds",
			Help:    "プロフィール取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directorio_sign_in_total",
			Help: "結果別のサインイン回数",
		}, []string{"outcome"}),
		signOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directorio_sign_out_total",
			Help: "結果別のサインアウト回数",
		}, []string{"outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directorio_session_events_total",
			Help: "認証サービスのセッション変化通知数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.verifications,
		c.verifyLatency,
		c.triggersDropped,
		c.profileLatency,
		c.signIns,
		c.signOuts,
		c.sessionEvents,
	)

	return c
}

// RecordVerification は検証結果と所要時間を記録する。
func (c *Collector) RecordVerification(outcome string, duration time.Duration) {
	c.verifications.WithLabelValues(outcome).Inc()
	c.verifyLatency.Observe(duration.Seconds())
}

// RecordTriggerDropped は破棄されたトリガーを記録する。
func (c *Collector) RecordTriggerDropped(trigger string) {
	c.triggersDropped.WithLabelValues(trigger).Inc()
}

// RecordProfileFetch はプロフィール取得のレイテンシを記録する。
func (c *Collector) RecordProfileFetch(duration time.Duration) {
	c.profileLatency.Observe(duration.Seconds())
}

// RecordSignIn はサインイン結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordSignOut はサインアウト結果を記録する。
func (c *Collector) RecordSignOut(outcome string) {
	c.signOuts.WithLabelValues(outcome).Inc()
}

// RecordSessionEvent はセッション変化通知を記録する。
func (c *Collector) RecordSessionEvent(kind string) {
	c.sessionEvents.WithLabelValues(kind).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
