// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 上流呼び出しの種別
const (
	CallTokenExchange = "token_exchange"
	CallUserInfo      = "userinfo"
	CallFindAccount   = "find_account"
	CallCreateAccount = "create_account"
	CallGenerateLink  = "generate_link"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCallbackSuccess()
	RecordCallbackFailure(kind, stage string)
	RecordUpstreamLatency(call string, duration time.Duration)
	RecordUpstreamFailure(call string)
	RecordAccountCreated()
	RecordAccountConflict()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	callbackSuccess  prometheus.Counter
	callbackFail     *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamFail     *prometheus.CounterVec
	accountsCreated  prometheus.Counter
	accountConflicts prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callbackSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signinbridge_callback_success_total",
			Help: "リダイレクトまで到達したコールバックの合計数",
		}),
		callbackFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signinbridge_callback_fail_total",
			Help: "失敗分類・処理段階別のコールバック失敗数",
		}, []string{"kind", "stage"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signinbridge_upstream_latency_seconds",
			Help:    "上流呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),
		upstreamFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signinbridge_upstream_fail_total",
			Help: "上流呼び出し失敗の合計数",
		}, []string{"call"}),
		accountsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signinbridge_accounts_created_total",
			Help: "新規作成したアカウントの合計数",
		}),
		accountConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signinbridge_account_conflicts_total",
			Help: "同時作成の競合を再検索で解決した回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signinbridge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.callbackSuccess,
		c.callbackFail,
		c.upstreamLatency,
		c.upstreamFail,
		c.accountsCreated,
		c.accountConflicts,
		c.httpStatus,
	)

	return c
}

// RecordCallbackSuccess はコールバック成功を記録する。
func (c *Collector) RecordCallbackSuccess() {
	c.callbackSuccess.Inc()
}

// RecordCallbackFailure はコールバック失敗を失敗分類と処理段階別に記録する。
func (c *Collector) RecordCallbackFailure(kind, stage string) {
	c.callbackFail.WithLabelValues(kind, stage).Inc()
}

// RecordUpstreamLatency は上流呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(call string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordUpstreamFailure は上流呼び出しの失敗を記録する。
func (c *Collector) RecordUpstreamFailure(call string) {
	c.upstreamFail.WithLabelValues(call).Inc()
}

// RecordAccountCreated はアカウント作成を記録する。
func (c *Collector) RecordAccountCreated() {
	c.accountsCreated.Inc()
}

// RecordAccountConflict は作成競合の解決を記録する。
func (c *Collector) RecordAccountConflict() {
	c.accountConflicts.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordCallbackSuccess()                      {}
func (NopCollector) RecordCallbackFailure(string, string)        {}
func (NopCollector) RecordUpstreamLatency(string, time.Duration) {}
func (NopCollector) RecordUpstreamFailure(string)                {}
func (NopCollector) RecordAccountCreated()                       {}
func (NopCollector) RecordAccountConflict()                      {}
func (NopCollector) RecordHTTPStatus(int)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
