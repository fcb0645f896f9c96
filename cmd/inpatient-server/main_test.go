package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/config"
	"github.com/ehr/inpatient/internal/domain/inpatient"
	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/internal/platform/kv"
	"github.com/ehr/inpatient/internal/platform/pricing"
	"github.com/ehr/inpatient/internal/platform/telemetry"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                             "development",
		DefaultTenant:                   "default",
		CORSOrigins:                     []string{"http://localhost:3000"},
		RateLimitRPM:                    600,
		AllowDischargeDespiteUnbilled:   true,
		AutoGenerateBillable:            true,
		ProcessServiceRequestOnlyIfPaid: true,
		DefaultPriceList:                "Standard Selling",
		DefaultCurrency:                 "INR",
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := policyFromConfig(testConfig())
	if !p.AllowDischargeDespiteUnbilled || !p.AutoGenerateBillable || !p.ProcessServiceRequestOnlyIfPaid {
		t.Errorf("policy flags not carried over: %+v", p)
	}
	if p.DefaultPriceList != "Standard Selling" || p.DefaultCurrency != "INR" {
		t.Errorf("unexpected price defaults: %+v", p)
	}
}

func TestPriceResolver_WithoutPricingURLUsesPriceList(t *testing.T) {
	a := &app{cfg: testConfig(), logger: zerolog.Nop()}
	if _, ok := a.priceResolver().(*pricing.PriceListPG); !ok {
		t.Errorf("expected price list resolver, got %T", a.priceResolver())
	}

	a.cfg.PricingURL = "http://pricing.local"
	if _, ok := a.priceResolver().(*pricing.Client); !ok {
		t.Errorf("expected pricing client without redis, got %T", a.priceResolver())
	}
}

func TestLockerFor_WithoutRedis(t *testing.T) {
	a := &app{cfg: testConfig()}
	if _, ok := a.lockerFor("default").(kv.LocalLocker); !ok {
		t.Errorf("expected local locker, got %T", a.lockerFor("default"))
	}
}

func TestFormatStatus(t *testing.T) {
	applied := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   db.MigrationStatus
		want string
	}{
		{"pending", db.MigrationStatus{Version: 3, Name: "counselling"}, "pending"},
		{"applied", db.MigrationStatus{Version: 1, Name: "core", Applied: true, AppliedAt: &applied}, "2026-03-01 10:30:00"},
		{"modified", db.MigrationStatus{Version: 2, Name: "inpatient", Applied: true, Modified: true, AppliedAt: &applied}, "modified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatStatus(tt.in)
			if !strings.Contains(got, tt.want) || !strings.Contains(got, tt.in.Name) {
				t.Errorf("formatStatus() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestEvery_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var calls atomic.Int32

	every(ctx, &wg, 5*time.Millisecond, func(context.Context) { calls.Add(1) })
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	if calls.Load() < 2 {
		t.Errorf("expected at least 2 runs, got %d", calls.Load())
	}
}

func TestEvery_DisabledForNonPositiveInterval(t *testing.T) {
	var wg sync.WaitGroup
	every(context.Background(), &wg, 0, func(context.Context) { t.Error("job should not run") })
	wg.Wait()
}

func TestNewEcho_Health(t *testing.T) {
	a := &app{cfg: testConfig(), logger: zerolog.Nop(), metrics: telemetry.New()}
	e := a.newEcho()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestRecordSweep(t *testing.T) {
	a := &app{metrics: telemetry.New()}
	a.recordSweep("default", &inpatient.SweepReport{Swept: 4, Updated: 3, Transient: 1})
	a.recordSweep("default", &inpatient.SweepReport{Skipped: true})

	if got := a.metrics.JobCount("sweep", "default", "updated"); got != 3 {
		t.Errorf("expected 3 updated, got %d", got)
	}
	if got := a.metrics.JobCount("sweep", "default", "transient"); got != 1 {
		t.Errorf("expected 1 transient, got %d", got)
	}
	if got := a.metrics.JobCount("sweep", "default", "skipped"); got != 1 {
		t.Errorf("expected 1 skipped, got %d", got)
	}
}
