package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics records charge attempt outcomes and settlement terminal states.
type PaymentMetrics struct {
	attempts *prometheus.CounterVec
	insoluto prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Charge attempts by phase and outcome.",
	}, []string{"phase", "outcome"})
	insoluto := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_insoluto_total",
		Help: "Appointments marked unrecoverable after exhausting retries.",
	})
	reg.MustRegister(attempts, insoluto)
	return &PaymentMetrics{attempts: attempts, insoluto: insoluto}
}

// IncAttempt counts a single gateway charge attempt.
func (p *PaymentMetrics) IncAttempt(phase, outcome string) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(normalizeLabel(phase), normalizeLabel(outcome)).Inc()
}

// IncInsoluto counts an appointment entering the unrecoverable state.
func (p *PaymentMetrics) IncInsoluto() {
	if p == nil || p.insoluto == nil {
		return
	}
	p.insoluto.Inc()
}
