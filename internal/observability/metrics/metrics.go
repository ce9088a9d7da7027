package metrics

import "github.com/prometheus/client_golang/prometheus"

// SMSMetrics exposes counters/histograms for SMS traffic.
type SMSMetrics struct {
	sentTotal     *prometheus.CounterVec
	receivedTotal *prometheus.CounterVec
	sendLatency   prometheus.Histogram
}

func NewSMSMetrics(reg prometheus.Registerer) *SMSMetrics {
	m := &SMSMetrics{
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locksmith",
			Subsystem: "sms",
			Name:      "sent_total",
			Help:      "Total outbound SMS sends",
		}, []string{"status"}),
		receivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locksmith",
			Subsystem: "sms",
			Name:      "received_total",
			Help:      "Total inbound SMS webhooks",
		}, []string{"command"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "locksmith",
			Subsystem: "sms",
			Name:      "send_latency_seconds",
			Help:      "Latency of outbound SMS provider calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sentTotal, m.receivedTotal, m.sendLatency)
	return m
}

func (m *SMSMetrics) ObserveSend(status string, seconds float64) {
	if m == nil {
		return
	}
	m.sentTotal.WithLabelValues(status).Inc()
	m.sendLatency.Observe(seconds)
}

func (m *SMSMetrics) ObserveReceive(command string) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(command).Inc()
}

// DispatchMetrics tracks wave fan-out and assignment outcomes.
type DispatchMetrics struct {
	wavesTotal       *prometheus.CounterVec
	offersTotal      *prometheus.CounterVec
	assignmentsTotal *prometheus.CounterVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		wavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locksmith",
			Subsystem: "dispatch",
			Name:      "waves_total",
			Help:      "Total dispatch waves sent",
		}, []string{"mode"}),
		offersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locksmith",
			Subsystem: "dispatch",
			Name:      "offers_total",
			Help:      "Total offers by terminal status",
		}, []string{"status"}),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locksmith",
			Subsystem: "dispatch",
			Name:      "assignments_total",
			Help:      "Job assignment attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.wavesTotal, m.offersTotal, m.assignmentsTotal)
	return m
}

func (m *DispatchMetrics) ObserveWave(mode string) {
	if m == nil {
		return
	}
	m.wavesTotal.WithLabelValues(mode).Inc()
}

func (m *DispatchMetrics) ObserveOffer(status string) {
	if m == nil {
		return
	}
	m.offersTotal.WithLabelValues(status).Inc()
}

func (m *DispatchMetrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(outcome).Inc()
}

// PaymentMetrics tracks payment webhook deliveries.
type PaymentMetrics struct {
	webhookTotal *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locksmith",
			Subsystem: "payments",
			Name:      "webhook_total",
			Help:      "Total payment webhooks by event type and status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal)
	return m
}

func (m *PaymentMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}
