// metrics — счётчики жизненного цикла токенов и HTTP-гистограмма
// на prometheus/client_golang. Все методы допускают nil-получатель,
// поэтому сервис и middleware работают и без метрик.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session_service"

// Результаты операций (значения label "result").
const (
	ResultOK                 = "ok"
	ResultInvalid            = "invalid"
	ResultExpired            = "expired"
	ResultReuse              = "reuse"
	ResultInactive           = "inactive"
	ResultInvalidCredentials = "invalid_credentials"
)

// Причины отзыва refresh-токенов (label "reason").
const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonPasswordChange = "password_change"
	ReasonPasswordReset  = "password_reset"
	ReasonReuse          = "reuse"
)

type Metrics struct {
	logins         *prometheus.CounterVec
	rotations      *prometheus.CounterVec
	revoked        *prometheus.CounterVec
	issued         *prometheus.CounterVec
	consumed       *prometheus.CounterVec
	expiredDeleted *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New регистрирует метрики в reg. Повторная регистрация в том же
// реестре приводит к panic (promauto), поэтому New вызывается один раз.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		rotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by result.",
		}, []string{"result"}),
		revoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_tokens_revoked_total",
			Help:      "Revoked refresh tokens by reason.",
		}, []string{"reason"}),
		issued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Issued tokens by kind.",
		}, []string{"kind"}),
		consumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "one_time_tokens_consumed_total",
			Help:      "One-time token consume attempts by kind and result.",
		}, []string{"kind", "result"}),
		expiredDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_tokens_deleted_total",
			Help:      "Expired token rows removed by the janitor.",
		}, []string{"kind"}),
		notifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Failed notification sends by notice.",
		}, []string{"notice"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Rotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

// Revoked учитывает n отозванных refresh-токенов.
func (m *Metrics) Revoked(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Issued(kind string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(kind).Inc()
}

func (m *Metrics) Consumed(kind, result string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ExpiredDeleted(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredDeleted.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) NotifyFailed(notice string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(notice).Inc()
}

// ObserveHTTP записывает длительность запроса; route — шаблон chi, не сырой путь.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
