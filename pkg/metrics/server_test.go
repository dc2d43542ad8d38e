package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer(":0", "test")

	rec := doGet(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	tests := []struct {
		name     string
		checker  ReadinessChecker
		wantCode int
		wantBody string
	}{
		{"без проверки", nil, http.StatusOK, `{"status":"ready"}`},
		{"зависимости доступны", func(ctx context.Context) error { return nil }, http.StatusOK, `{"status":"ready"}`},
		{"MySQL недоступен", func(ctx context.Context) error { return errors.New("mysql down") }, http.StatusServiceUnavailable, `{"status":"not_ready"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.checker != nil {
				opts = append(opts, WithReadinessCheck(tt.checker))
			}
			s := NewServer(":0", "test", opts...)

			rec := doGet(t, s.Handler(), "/readyz")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestServer_OutboxStatus(t *testing.T) {
	s := NewServer(":0", "test", WithStatusProvider(func(ctx context.Context) (any, error) {
		return map[string]any{"running": true, "pending": 3}, nil
	}))

	rec := doGet(t, s.Handler(), "/outbox/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":true,"pending":3}`, rec.Body.String())
}

func TestServer_OutboxStatus_Error(t *testing.T) {
	s := NewServer(":0", "test", WithStatusProvider(func(ctx context.Context) (any, error) {
		return nil, errors.New("db down")
	}))

	rec := doGet(t, s.Handler(), "/outbox/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_OutboxStatus_Disabled(t *testing.T) {
	s := NewServer(":0", "test")

	rec := doGet(t, s.Handler(), "/outbox/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	ExhaustedEvents.Set(2)
	s := NewServer(":0", "test")

	rec := doGet(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "outbox_exhausted_events 2")
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("test.recorded", StatusError))
	RecordDelivery("test.recorded", errors.New("boom"), 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(DeliveriesTotal.WithLabelValues("test.recorded", StatusError)))

	beforeRuns := testutil.ToFloat64(WorkerRunsTotal.WithLabelValues("test-activity", StatusSuccess))
	RecordWorkerRun("test-activity", nil, time.Millisecond)
	assert.Equal(t, beforeRuns+1, testutil.ToFloat64(WorkerRunsTotal.WithLabelValues("test-activity", StatusSuccess)))

	SetStatusCounts(map[string]int64{"PENDING": 7})
	assert.Equal(t, float64(7), testutil.ToFloat64(OutboxEvents.WithLabelValues("PENDING")))
}
