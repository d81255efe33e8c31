package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notification_ledger"

// Metrics stores Prometheus collectors for the API, the ledger and delivery.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	creditBalance       prometheus.Gauge
	ledgerTransactions  *prometheus.CounterVec
	messagesTotal       *prometheus.CounterVec
	gatewaySendDuration prometheus.Histogram
	gatewayAttempts     *prometheus.CounterVec
	lowBalanceAlerts    *prometheus.CounterVec
	dispatchInflight    prometheus.Gauge
	ledgerAuditDrift    prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		creditBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credit_balance",
			Help:      "Current credit balance after the last ledger mutation.",
		}),
		ledgerTransactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_transactions_total",
				Help:      "Ledger transactions appended, by kind.",
			},
			[]string{"kind"},
		),
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Messages that reached a terminal status.",
			},
			[]string{"status"},
		),
		gatewaySendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_send_duration_seconds",
			Help:      "Duration of a single gateway send attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		gatewayAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_attempts_total",
				Help:      "Gateway send attempts by result.",
			},
			[]string{"result"},
		),
		lowBalanceAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "low_balance_alerts_total",
				Help:      "Low-balance alert edges, by event.",
			},
			[]string{"event"},
		),
		dispatchInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_inflight",
			Help:      "Messages currently between reservation and resolution in this process.",
		}),
		ledgerAuditDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_audit_drift_credits",
			Help:      "Cached balance minus replayed balance at the last audit.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.creditBalance,
		m.ledgerTransactions,
		m.messagesTotal,
		m.gatewaySendDuration,
		m.gatewayAttempts,
		m.lowBalanceAlerts,
		m.dispatchInflight,
		m.ledgerAuditDrift,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) SetBalance(balance int64) {
	if m == nil {
		return
	}
	m.creditBalance.Set(float64(balance))
}

func (m *Metrics) IncLedgerTransaction(kind string) {
	if m == nil {
		return
	}
	m.ledgerTransactions.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncMessageResolved(status string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveGatewayAttempt(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(normalizeLabel(result)).Inc()
	m.gatewaySendDuration.Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncLowBalanceAlert(event string) {
	if m == nil {
		return
	}
	m.lowBalanceAlerts.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) SetAuditDrift(drift int64) {
	if m == nil {
		return
	}
	m.ledgerAuditDrift.Set(float64(drift))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
