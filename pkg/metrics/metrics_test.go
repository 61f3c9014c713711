package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if label == "" || (len(m.GetLabel()) > 0 && m.GetLabel()[0].GetValue() == label) {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestObserveBreaker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveBreaker("ollama", resilience.StateOpen)
	if got := gaugeValue(t, reg, "circuit_breaker_state", "ollama"); got != 1 {
		t.Errorf("breaker gauge = %v, want 1", got)
	}
	m.ObserveBreaker("ollama", resilience.StateHalfOpen)
	if got := gaugeValue(t, reg, "circuit_breaker_state", "ollama"); got != 2 {
		t.Errorf("breaker gauge = %v, want 2", got)
	}
}

func TestObserveIndex(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveIndex(40, 3, 912)
	for name, want := range map[string]float64{"index_chunks": 40, "index_files": 3, "index_vocabulary_terms": 912} {
		if got := gaugeValue(t, reg, name, ""); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestSeparateRegistries(t *testing.T) {
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
