package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_PassesThrough(t *testing.T) {
	m, _ := newTestMetrics(t)

	var called bool
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	if !called {
		t.Fatal("downstream handler was not called")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/toggle", nil))

	rm := collect(t, reader)
	found := findMetric(rm, "auris.http.request.duration")
	if found == nil {
		t.Fatal("auris.http.request.duration not found")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", found.Data)
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Error("expected one recorded request duration")
	}
}

func TestMiddleware_DefaultStatusIs200(t *testing.T) {
	m, _ := newTestMetrics(t)
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write without an explicit WriteHeader.
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rec.statusCode)
	}
}

// Trace helpers are exercised through the middleware; a bare context has no
// span, so CorrelationID must be empty.
func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(t.Context()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

// The middleware must still work when the global tracer provider is the
// SDK default with no exporter.
func TestMiddleware_WithSDKTracer(t *testing.T) {
	m, _ := newTestMetrics(t)
	_ = sdkmetric.NewMeterProvider()

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/detections", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
