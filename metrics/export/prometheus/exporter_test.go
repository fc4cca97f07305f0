package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot goIdentity.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func scrape(t *testing.T, exp *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExporterRendersCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricAuthSuccess:       7,
				goIdentity.MetricMFAReplayRejected: 2,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := scrape(t, exp)
	assert.Contains(t, out, "goidentity_auth_success_total 7")
	assert.Contains(t, out, "goidentity_mfa_replay_rejected_total 2")
	assert.Contains(t, out, "goidentity_refresh_success_total 0")
	assert.Contains(t, out, `goidentity_verify_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `goidentity_verify_latency_seconds_bucket{le="0.5"} 28`)
	assert.Contains(t, out, `goidentity_verify_latency_seconds_bucket{le="+Inf"} 36`)
	assert.Contains(t, out, "goidentity_verify_latency_seconds_count 36")
	assert.Contains(t, out, "goidentity_audit_dropped_total 2")
}

func TestExporterCollectsEveryDefinition(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: goIdentity.MetricsSnapshot{}})
	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	assert.Equal(t, want, testutil.CollectAndCount(exp))
}

func TestExporterRegistersWithoutConflicts(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewExporterFromSource(fakeSource{})))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)+1)
}
