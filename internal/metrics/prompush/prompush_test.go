package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"surveysync/internal/metrics"
)

// readCounterValue reads the current value of a Counter for assertions in tests.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func readSummaryCount(t *testing.T, v *prometheus.SummaryVec, labels ...string) uint64 {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	return m.GetSummary().GetSampleCount()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if b, err := NewBackend("job", ""); err == nil || b != nil {
		t.Fatalf("NewBackend without URL = (%v, %v), want error", b, err)
	}

	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if b.jobName != "surveysync" {
		t.Fatalf("jobName = %q, want default", b.jobName)
	}
	if b.stepCounter == nil || b.stepDuration == nil || b.rowCounter == nil || b.driftCounter == nil {
		t.Fatalf("collectors not initialized: %+v", b)
	}
}

func TestIncCounter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		metric string
		delta  float64
		labels metrics.Labels
		read   func(b *Backend) prometheus.Counter
		want   float64
	}{
		{
			name:   "step counter",
			metric: metrics.StepTotal,
			delta:  3,
			labels: metrics.Labels{"step": "refresh_view", "status": "success"},
			read:   func(b *Backend) prometheus.Counter { return b.stepCounter.WithLabelValues("refresh_view", "success") },
			want:   3,
		},
		{
			name:   "row counter",
			metric: metrics.RowsTotal,
			delta:  5,
			labels: metrics.Labels{"kind": "exported"},
			read:   func(b *Backend) prometheus.Counter { return b.rowCounter.WithLabelValues("exported") },
			want:   5,
		},
		{
			name:   "drift counter",
			metric: metrics.DriftTotal,
			delta:  1,
			labels: metrics.Labels{"state": "snapshot_matches"},
			read:   func(b *Backend) prometheus.Counter { return b.driftCounter.WithLabelValues("snapshot_matches") },
			want:   1,
		},
		{
			name:   "unknown metric is ignored",
			metric: "unknown_metric",
			delta:  10,
			labels: metrics.Labels{"kind": "exported"},
			read:   func(b *Backend) prometheus.Counter { return b.rowCounter.WithLabelValues("exported") },
			want:   0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend("surveysync", "http://example.com")
			if err != nil {
				t.Fatalf("NewBackend() error = %v", err)
			}
			b.IncCounter(tt.metric, tt.delta, tt.labels)
			if got := readCounterValue(t, tt.read(b)); got != tt.want {
				t.Fatalf("counter value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestZeroBackendIsSafe(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "s", "status": "success"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "exported"})
	b.IncCounter(metrics.DriftTotal, 1, metrics.Labels{"state": "x"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, metrics.Labels{})
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("surveysync", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	lbls := metrics.Labels{"step": "export", "status": "success"}
	b.ObserveHistogram(metrics.StepDurationSeconds, 1.5, lbls)
	b.ObserveHistogram("other_metric", 2.0, lbls)

	if got := readSummaryCount(t, b.stepDuration, "export", "success"); got != 1 {
		t.Fatalf("summary sample count = %d, want 1", got)
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	type pushRequestInfo struct {
		method  string
		path    string
		bodyLen int
	}
	reqCh := make(chan pushRequestInfo, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushRequestInfo{method: r.Method, path: r.URL.Path, bodyLen: len(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("surveysync", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "fetch_structure", "status": "success"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got pushRequestInfo
	select {
	case got = <-reqCh:
	default:
		t.Fatalf("Flush() did not result in any HTTP request to the Pushgateway")
	}
	if got.method != http.MethodPut {
		t.Fatalf("method = %q, want PUT", got.method)
	}
	if got.path != "/metrics/job/surveysync" {
		t.Fatalf("path = %q", got.path)
	}
	if got.bodyLen == 0 {
		t.Fatalf("Push request body length = 0, want > 0")
	}
}
