package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Validation metrics
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_guard_validations_total",
			Help: "Signal validations by outcome",
		},
		[]string{"status"},
	)

	// Circuit breaker metrics
	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_guard_breaker_state",
			Help: "Circuit breaker state (0 active, 1 recovering, 2 tripped, 3 manual reset required)",
		},
	)

	dailyLossPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_guard_daily_loss_pct",
			Help: "Signed daily PnL as a fraction of day-start balance",
		},
	)

	// Portfolio metrics
	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_guard_open_positions",
			Help: "Number of open positions tracked by the portfolio",
		},
	)

	exposurePct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_guard_exposure_pct",
			Help: "Total notional exposure as a fraction of equity",
		},
	)

	// Protection metrics
	activeProtections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "risk_guard_active_protections",
			Help: "Number of positions under multi-layer protection",
		},
	)

	emergencyClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_guard_emergency_closes_total",
			Help: "Forced position closes by triggering layer",
		},
		[]string{"trigger"},
	)

	closeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_guard_close_failures_total",
			Help: "Protective closes that failed at the exchange",
		},
		[]string{"trigger"},
	)

	monitorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_guard_monitor_failures_total",
			Help: "Stop monitor ticks that could not read the market",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(validationsTotal)
	prometheus.MustRegister(breakerState)
	prometheus.MustRegister(dailyLossPct)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(exposurePct)
	prometheus.MustRegister(activeProtections)
	prometheus.MustRegister(emergencyClosesTotal)
	prometheus.MustRegister(closeFailuresTotal)
	prometheus.MustRegister(monitorFailuresTotal)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordValidation counts one signal validation outcome
func RecordValidation(status string) {
	validationsTotal.WithLabelValues(status).Inc()
}

// SetBreakerState publishes the breaker state as a numeric gauge
func SetBreakerState(state string) {
	var v float64
	switch state {
	case "ACTIVE":
		v = 0
	case "RECOVERING":
		v = 1
	case "TRIPPED":
		v = 2
	case "MANUAL_RESET_REQUIRED":
		v = 3
	}
	breakerState.Set(v)
}

// SetDailyLossPct publishes the breaker's signed daily PnL fraction
func SetDailyLossPct(v float64) {
	dailyLossPct.Set(v)
}

// SetOpenPositions publishes the open position count
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// SetExposurePct publishes total exposure as a fraction of equity
func SetExposurePct(v float64) {
	exposurePct.Set(v)
}

// SetActiveProtections publishes the active protection count
func SetActiveProtections(n int) {
	activeProtections.Set(float64(n))
}

// RecordEmergencyClose counts a forced close by triggering layer
func RecordEmergencyClose(trigger string) {
	emergencyClosesTotal.WithLabelValues(trigger).Inc()
}

// RecordCloseFailure counts a protective close that failed at the exchange
func RecordCloseFailure(trigger string) {
	closeFailuresTotal.WithLabelValues(trigger).Inc()
}

// RecordMonitorFailure counts a blind stop-monitor tick
func RecordMonitorFailure(symbol string) {
	monitorFailuresTotal.WithLabelValues(symbol).Inc()
}
