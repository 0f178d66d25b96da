package hubmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	hubmetrics "github.com/pavel-pimenov/verlihub/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	m := <-ch

	var dtoM dto.Metric
	if err := m.Write(&dtoM); err != nil {
		t.Fatalf("write metric: %v", err)
	}

	switch {
	case dtoM.Counter != nil:
		return dtoM.Counter.GetValue()
	case dtoM.Gauge != nil:
		return dtoM.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric type")
		return 0
	}
}

func TestCollectorPollTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := hubmetrics.NewCollector(reg)

	c.IncPollTick(3)
	c.IncPollTick(5)

	if got := counterValue(t, c.PollTicks); got != 2 {
		t.Fatalf("PollTicks = %v, want 2", got)
	}

	if got := counterValue(t, c.PollReady); got != 8 {
		t.Fatalf("PollReady = %v, want 8", got)
	}
}

func TestCollectorConnectionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := hubmetrics.NewCollector(reg)

	c.SetConnections(42)

	if got := counterValue(t, c.Connections); got != 42 {
		t.Fatalf("Connections = %v, want 42", got)
	}
}

func TestCollectorGeoLookups(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := hubmetrics.NewCollector(reg)

	c.RecordGeoLookup("country", "cache")
	c.RecordGeoLookup("country", "cache")
	c.RecordGeoLookup("asn", "database")

	if got := counterValue(t, c.GeoLookups.WithLabelValues("country", "cache")); got != 2 {
		t.Fatalf("country/cache = %v, want 2", got)
	}

	if got := counterValue(t, c.GeoLookups.WithLabelValues("asn", "database")); got != 1 {
		t.Fatalf("asn/database = %v, want 1", got)
	}
}
