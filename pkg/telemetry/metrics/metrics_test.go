package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:         true,
		Path:            "/metrics",
		Namespace:       "turnstile",
		MaxTenantSeries: 2,
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
	if cfg.Namespace != "turnstile" {
		t.Errorf("Namespace default = %q, want turnstile", cfg.Namespace)
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		t.Error("Expected default duration buckets")
	}
	if collector.Limits() == nil || collector.Recorder() == nil {
		t.Error("Expected engine and recorder metrics when enabled")
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	if collector.Limits() != nil || collector.Recorder() != nil {
		t.Error("Expected nil metrics when disabled")
	}

	collector.RecordTenantAdmission("acme", true)
	if got := testutil.ToFloat64(collector.tenants.admissions.WithLabelValues("acme", "admitted")); got != 0 {
		t.Errorf("Disabled collector recorded %v", got)
	}

	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if h := collector.Instrument("/v1/admit", inner); h == nil {
		t.Error("Instrument returned nil")
	}
}

func TestCollector_EngineMetricsShareRegistry(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.Limits().RecordAdmission(limits.ResourceAPICall, limits.Admit())

	count, err := testutil.GatherAndCount(collector.Registry(), "turnstile_admissions_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if count != 1 {
		t.Errorf("turnstile_admissions_total series = %d, want 1", count)
	}
}

func TestTenantMetrics_CardinalityLimit(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordTenantAdmission("acme", true)
	collector.RecordTenantAdmission("globex", false)
	collector.RecordTenantAdmission("initech", true)
	collector.RecordTenantAdmission("acme", true)

	admissions := collector.tenants.admissions
	if got := testutil.ToFloat64(admissions.WithLabelValues("acme", "admitted")); got != 2 {
		t.Errorf("acme admitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(admissions.WithLabelValues("globex", "denied")); got != 1 {
		t.Errorf("globex denied = %v, want 1", got)
	}
	if got := testutil.ToFloat64(admissions.WithLabelValues(OtherTenant, "admitted")); got != 1 {
		t.Errorf("other admitted = %v, want 1", got)
	}
	if got := collector.tenants.limiter.Count(); got != 2 {
		t.Errorf("cardinality = %d, want 2", got)
	}
}

func TestCollector_Instrument(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	handler := collector.Instrument("/v1/admit", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/admit", nil))
	}

	got := testutil.ToFloat64(collector.http.requestsTotal.WithLabelValues("/v1/admit", http.MethodPost, "429"))
	if got != 3 {
		t.Errorf("requests_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.http.inFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestCollector_InstrumentPing(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	healthy := collector.InstrumentPing("counter_store", func(context.Context) error { return nil })
	broken := collector.InstrumentPing("event_storage", func(context.Context) error { return errors.New("locked") })

	if err := healthy(context.Background()); err != nil {
		t.Fatalf("healthy ping: %v", err)
	}
	if err := broken(context.Background()); err == nil {
		t.Fatal("expected error from broken ping")
	}

	if got := testutil.ToFloat64(collector.stores.up.WithLabelValues("counter_store")); got != 1 {
		t.Errorf("counter_store up = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.stores.up.WithLabelValues("event_storage")); got != 0 {
		t.Errorf("event_storage up = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.Limits().RecordFailOpen("rate_limit")

	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{"turnstile_fail_open_total", "turnstile_recorder_queue_depth", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("first two labels should be allowed")
	}
	if cl.Allow("c") {
		t.Error("third label should be rejected")
	}
	if !cl.Allow("a") {
		t.Error("existing label should still be allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}
