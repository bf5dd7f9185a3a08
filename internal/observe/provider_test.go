package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesPrometheusMetrics(t *testing.T) {
	origMP, origTP, origProp := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordChatReply(context.Background(), "local", true)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"mindfulcart_chat_requests",
		"mindfulcart_chat_local_fallbacks",
		"go_goroutines",
		`service_name="mindfulcart"`,
		`service_version="test"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	if got := otel.GetTextMapPropagator().Fields(); len(got) == 0 {
		t.Error("global propagator has no fields, want traceparent")
	}
}

func TestInitProvider_RepeatableWithoutCollision(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	for range 2 {
		tel, err := InitProvider(context.Background(), ProviderConfig{})
		if err != nil {
			t.Fatalf("InitProvider: %v", err)
		}
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}
