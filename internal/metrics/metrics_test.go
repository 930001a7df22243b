package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewServer_Healthz(t *testing.T) {
	srv := NewServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNewServer_Metrics(t *testing.T) {
	DispatchTotal.WithLabelValues(OutcomeSent).Inc()

	srv := NewServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fleet_dispatch_total")
}

func TestDispatchTotal_Counts(t *testing.T) {
	before := testutil.ToFloat64(DispatchTotal.WithLabelValues(OutcomeFailed))
	DispatchTotal.WithLabelValues(OutcomeFailed).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DispatchTotal.WithLabelValues(OutcomeFailed)))
}

type fakePoolStats struct{ acquired, idle, max, total int32 }

func (s fakePoolStats) AcquiredConns() int32 { return s.acquired }
func (s fakePoolStats) IdleConns() int32     { return s.idle }
func (s fakePoolStats) MaxConns() int32      { return s.max }
func (s fakePoolStats) TotalConns() int32    { return s.total }

func TestPoolCollectors(t *testing.T) {
	stats := fakePoolStats{acquired: 2, idle: 3, max: 10, total: 5}
	collectors := poolCollectors(func() poolStats { return stats })

	assert.Len(t, collectors, 4)
	assert.Equal(t, float64(2), testutil.ToFloat64(collectors[0]))
	assert.Equal(t, float64(3), testutil.ToFloat64(collectors[1]))
	assert.Equal(t, float64(10), testutil.ToFloat64(collectors[2]))
	assert.Equal(t, float64(5), testutil.ToFloat64(collectors[3]))
}
