package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_NoDuplicateCollisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("meshrt")
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestCounters_Increment(t *testing.T) {
	m := New("meshrt")
	m.MessagesSent.Inc()
	m.MessagesSent.Inc()

	if got := testutil.ToFloat64(m.MessagesSent); got != 2 {
		t.Errorf("MessagesSent = %v, want 2", got)
	}
}

func TestGauge_SetAndRead(t *testing.T) {
	m := New("meshrt")
	m.RemoteEndpoints.Set(3)
	if got := testutil.ToFloat64(m.RemoteEndpoints); got != 3 {
		t.Errorf("RemoteEndpoints = %v, want 3", got)
	}
}
