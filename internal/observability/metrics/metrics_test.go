package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSMSMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSMSMetrics(reg)
	m.ObserveSend("sent", 0.12)
	m.ObserveSend("failed", 0.5)
	m.ObserveReceive("accept")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected registered metric families")
	}
}

func TestDispatchMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)
	m.ObserveWave("job")
	m.ObserveOffer("declined")
	m.ObserveAssignment("won")
}

func TestPaymentMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)
	m.ObserveWebhook("payment_intent.succeeded", "processed")
}

func TestMetricsNilSafe(t *testing.T) {
	var sms *SMSMetrics
	sms.ObserveSend("sent", 0.1)
	sms.ObserveReceive("decline")

	var dispatch *DispatchMetrics
	dispatch.ObserveWave("session")
	dispatch.ObserveOffer("expired")
	dispatch.ObserveAssignment("lost")

	var payments *PaymentMetrics
	payments.ObserveWebhook("refund.created", "duplicate")
}
