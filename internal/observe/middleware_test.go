package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newInstrumentedHandler wires the middleware around next with isolated
// metric and trace backends and returns hooks for inspecting both.
func newInstrumentedHandler(t *testing.T, next http.Handler) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m)(next), reader, exp
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/embed/", "embed"},
		{"/", "status"},
		{"/metrics", "metrics"},
		{"/healthz", "healthz"},
		{"/readyz", "readyz"},
		{"/embed", "other"},
		{"/favicon.ico", "other"},
		{"/../../etc/passwd", "other"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_SpansEmbedRequests(t *testing.T) {
	h, _, exp := newInstrumentedHandler(t, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/embed/", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name != "http embed" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "http embed")
	}
}

func TestMiddleware_RecordsLatencyByRoute(t *testing.T) {
	h, reader, _ := newInstrumentedHandler(t, okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/embed/", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wikivec.http.request.duration")
	if met == nil {
		t.Fatal("latency histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("latency histogram has no data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	var method, route string
	for _, kv := range dp.Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			method = kv.Value.AsString()
		case "route":
			route = kv.Value.AsString()
		}
	}
	if method != "POST" || route != "embed" {
		t.Errorf("attributes method=%q route=%q, want POST/embed", method, route)
	}
}

func TestMiddleware_BoundsRouteCardinality(t *testing.T) {
	h, reader, _ := newInstrumentedHandler(t, okHandler())

	for _, path := range []string{"/nope", "/also/nope", "/embed"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wikivec.http.request.duration")
	if met == nil {
		t.Fatal("latency histogram not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])

	// All three unknown paths collapse into one "other" series.
	if len(hist.DataPoints) != 1 {
		t.Fatalf("series = %d, want 1", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Count != 3 {
		t.Errorf("sample count = %d, want 3", hist.DataPoints[0].Count)
	}
}

func TestMiddleware_CapturesErrorStatus(t *testing.T) {
	h, _, exp := newInstrumentedHandler(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/embed/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("response status = %d, want 503", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 503 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_ContinuesClientTrace(t *testing.T) {
	var seen string
	h, _, _ := newInstrumentedHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	const wantTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("POST", "/embed/", nil)
	req.Header.Set("traceparent", "00-"+wantTrace+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != wantTrace {
		t.Errorf("handler trace ID = %q, want %q", seen, wantTrace)
	}
	// The response echoes the trace so the client can pair it with logs.
	if got := rec.Header().Get("traceparent"); got == "" {
		t.Error("response missing traceparent header")
	}
}
