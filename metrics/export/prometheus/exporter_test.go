package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/mail2fa"
)

type fakeSource struct {
	snapshot mail2fa.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() mail2fa.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                    { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters:   map[mail2fa.MetricID]uint64{},
			Histograms: map[mail2fa.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters: map[mail2fa.MetricID]uint64{
				mail2fa.MetricChallengeIssued: 7,
			},
			Histograms: map[mail2fa.MetricID][]uint64{
				mail2fa.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "mail2fa_challenge_issued_total 7") {
		t.Fatalf("expected challenge_issued counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "mail2fa_verify_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "mail2fa_verify_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "mail2fa_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestRenderLatencySumAndLastSweep(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters: map[mail2fa.MetricID]uint64{mail2fa.MetricSweepRuns: 1},
			Histograms: map[mail2fa.MetricID][]uint64{
				mail2fa.MetricVerifyLatency: {2, 0, 0, 0, 0, 0, 0, 0},
			},
			HistogramSums: map[mail2fa.MetricID]time.Duration{
				mail2fa.MetricVerifyLatency: 1500 * time.Millisecond,
			},
			LastSweep: time.Unix(1773480600, 0),
		},
	})

	out := exp.Render()
	if !strings.Contains(out, "mail2fa_verify_latency_seconds_sum 1.5\n") {
		t.Fatalf("expected latency sum in seconds, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE mail2fa_sweep_last_success_timestamp_seconds gauge\nmail2fa_sweep_last_success_timestamp_seconds 1773480600\n") {
		t.Fatalf("expected last sweep gauge, got:\n%s", out)
	}
}

func TestRenderOmitsHistogramWhenLatencyDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters:   map[mail2fa.MetricID]uint64{mail2fa.MetricVerifySuccess: 1},
			Histograms: map[mail2fa.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	if strings.Contains(out, "mail2fa_verify_latency_seconds") {
		t.Fatalf("histogram rendered without samples:\n%s", out)
	}
	if !strings.Contains(out, "mail2fa_sweep_last_success_timestamp_seconds 0\n") {
		t.Fatalf("expected zero last sweep gauge, got:\n%s", out)
	}
}

func TestRenderListsEveryCounterInOrder(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters:   map[mail2fa.MetricID]uint64{mail2fa.MetricSweepRuns: 1},
			Histograms: map[mail2fa.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	issued := strings.Index(out, "mail2fa_challenge_issued_total 0")
	sweeps := strings.Index(out, "mail2fa_sweep_runs_total 1")
	if issued < 0 || sweeps < 0 || issued > sweeps {
		t.Fatalf("expected zero-valued counters in definition order, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters:   map[mail2fa.MetricID]uint64{mail2fa.MetricVerifySuccess: 1},
			Histograms: map[mail2fa.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mail2fa.MetricsSnapshot{
			Counters: map[mail2fa.MetricID]uint64{
				mail2fa.MetricChallengeIssued:         1000,
				mail2fa.MetricChallengeReused:         40,
				mail2fa.MetricDeliverySuccess:         990,
				mail2fa.MetricDeliveryFailure:         10,
				mail2fa.MetricVerifySuccess:           800,
				mail2fa.MetricVerifyFailure:           120,
				mail2fa.MetricVerifyAttemptsExhausted: 3,
			},
			Histograms: map[mail2fa.MetricID][]uint64{
				mail2fa.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
