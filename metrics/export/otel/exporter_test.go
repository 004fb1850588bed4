package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/channel/channeltest"
	gojwt "github.com/golang-jwt/jwt/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot lmsauth.MetricsSnapshot
	dropped  uint64
	session  lmsauth.Session
	status   lmsauth.ChannelStatus
}

func (f *fakeSource) Session() lmsauth.Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session
}

func (f *fakeSource) Channel() lmsauth.ChannelStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *fakeSource) MetricsSnapshot() lmsauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := lmsauth.MetricsSnapshot{
		Counters:   make(map[lmsauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[lmsauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReaderMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// int64Value finds the single data point of name in rm.
func int64Value(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				return data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				return data.DataPoints[0].Value
			default:
				t.Fatalf("%s has unexpected data %T", name, m.Data)
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("lmsauth-test")

	src := &fakeSource{
		snapshot: lmsauth.MetricsSnapshot{
			Counters: map[lmsauth.MetricID]uint64{
				lmsauth.MetricLoginSuccess:     3,
				lmsauth.MetricStaleHookIgnored: 2,
			},
			Histograms: map[lmsauth.MetricID][]uint64{
				lmsauth.MetricChannelConnectLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if got := int64Value(t, rm, "lmsauth_login_success_total"); got != 3 {
		t.Fatalf("login_success = %d", got)
	}
	if got := int64Value(t, rm, "lmsauth_stale_hook_ignored_total"); got != 2 {
		t.Fatalf("stale_hook_ignored = %d", got)
	}
	if got := int64Value(t, rm, "lmsauth_channel_connect_latency_seconds_bucket_le_0_25"); got != 3 {
		t.Fatalf("cumulative 0.25s bucket = %d", got)
	}
	if got := int64Value(t, rm, "lmsauth_channel_connect_latency_seconds_count"); got != 8 {
		t.Fatalf("histogram count = %d", got)
	}
	if got := int64Value(t, rm, "lmsauth_audit_dropped_total"); got != 1 {
		t.Fatalf("audit dropped = %d", got)
	}
}

func TestExporterReportsSessionAndChannelState(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("lmsauth-test")

	exp := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	src := &fakeSource{
		snapshot: lmsauth.MetricsSnapshot{},
		session:  lmsauth.Session{Token: "t", Role: lmsauth.RoleMember, Principal: "alice", ExpiresAt: exp},
		status:   lmsauth.ChannelStatus{ID: "ws-4", Generation: 4},
	}
	e, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer e.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	want := map[string]int64{
		"lmsauth_session_signed_in":                1,
		"lmsauth_session_librarian":                0,
		"lmsauth_session_expiry_timestamp_seconds": exp.Unix(),
		"lmsauth_channel_live":                     1,
		"lmsauth_channel_connected":                0,
		"lmsauth_channel_generation":               4,
	}
	for name, v := range want {
		if got := int64Value(t, rm, name); got != v {
			t.Fatalf("%s = %d, want %d", name, got, v)
		}
	}

	src.mu.Lock()
	src.session = lmsauth.Session{}
	src.status = lmsauth.ChannelStatus{}
	src.mu.Unlock()

	rm = metricdata.ResourceMetrics{}
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := int64Value(t, rm, "lmsauth_channel_live"); got != 0 {
		t.Fatalf("channel_live after sign-out = %d", got)
	}
	if got := int64Value(t, rm, "lmsauth_session_signed_in"); got != 0 {
		t.Fatalf("signed_in after sign-out = %d", got)
	}
}

func TestExporterFollowsManager(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("lmsauth-test")

	factory := channeltest.NewFactory()
	m, err := lmsauth.New().WithChannelFactory(factory).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer m.Close()

	e, err := NewOTelExporter(meter, m)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer e.Close()

	claims := gojwt.MapClaims{"sub": "bob", "role": "LIBRARIAN", "exp": time.Now().Add(time.Hour).Unix()}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := m.Login(context.Background(), token, lmsauth.RoleLibrarian); err != nil {
		t.Fatalf("login: %v", err)
	}
	factory.Last().Connect()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for name, v := range map[string]int64{
		"lmsauth_session_librarian":   1,
		"lmsauth_channel_connected":   1,
		"lmsauth_channel_generation":  1,
		"lmsauth_login_success_total": 1,
	} {
		if got := int64Value(t, rm, name); got != v {
			t.Fatalf("%s = %d, want %d", name, got, v)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReaderMeter()
	meter := provider.Meter("lmsauth-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil manager, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReaderMeter()
	meter := provider.Meter("lmsauth-test")

	src := &fakeSource{
		snapshot: lmsauth.MetricsSnapshot{
			Counters: map[lmsauth.MetricID]uint64{
				lmsauth.MetricChannelMessage: 1,
			},
			Histograms: map[lmsauth.MetricID][]uint64{},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[lmsauth.MetricChannelMessage] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
