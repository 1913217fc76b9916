package otel

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrEthical07/portalauth"
)

func TestLogExporterWritesNonZeroCounters(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	reader := sdkmetric.NewPeriodicReader(NewLogExporter(logger))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &fakeSource{counters: map[portalauth.MetricID]uint64{portalauth.MetricLoginFailure: 5}}
	exp, err := New(provider.Meter("portal-auth-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = exp.Close() }()

	if err := provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "portal_auth_login_failure_total=5") {
		t.Fatalf("expected login failure counter in log, got %q", out)
	}
	if strings.Contains(out, "portal_auth_logout_total") {
		t.Fatalf("zero counters should be omitted: %q", out)
	}
}
