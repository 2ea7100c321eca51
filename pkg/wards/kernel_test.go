package wards

import (
	"testing"
	"time"
)

func TestPrecedenceCapOverrideWinsOverTenantAndGlobal(t *testing.T) {
	global := QuotaSpec{Limit: 1, WindowSeconds: 60}
	k := New(Config{
		TenantingEnabled: true,
		Global:           &global,
		TenantDefaults:   map[string]QuotaSpec{"acme": {Limit: 2, WindowSeconds: 60}},
		CapOverrides: map[string]map[string]QuotaSpec{
			"acme": {"capsule.http": {Limit: 5, WindowSeconds: 60}},
		},
	})

	d := k.AllowAndCount("acme", "capsule.http")
	if !d.Allowed || d.Limit != 5 || d.Remaining != 4 {
		t.Fatalf("expected cap override (limit 5) to apply, got %+v", d)
	}

	d = k.AllowAndCount("acme", "capsule.other")
	if !d.Allowed || d.Limit != 2 {
		t.Fatalf("expected tenant default (limit 2) to apply for uncovered capability, got %+v", d)
	}

	d = k.AllowAndCount("other-tenant", "capsule.other")
	if !d.Allowed || d.Limit != 1 {
		t.Fatalf("expected global default (limit 1) to apply for uncovered tenant, got %+v", d)
	}
}

func TestFallbackDeniesByDefault(t *testing.T) {
	k := New(Config{TenantingEnabled: true})
	d := k.AllowAndCount("acme", "capsule.http")
	if d.Allowed {
		t.Fatal("expected deny-by-default fallback when no tier matches")
	}
	if d.Limit != 0 || d.WindowSeconds != 60 {
		t.Fatalf("expected fallback {0,60}, got %+v", d)
	}
}

func TestQuotaDenialAfterLimitReached(t *testing.T) {
	k := New(Config{
		TenantingEnabled: true,
		CapOverrides: map[string]map[string]QuotaSpec{
			"acme": {"capsule.http": {Limit: 1, WindowSeconds: 60}},
		},
	})

	first := k.AllowAndCount("acme", "capsule.http")
	if !first.Allowed || first.Remaining != 0 {
		t.Fatalf("first call should be allowed with remaining=0, got %+v", first)
	}
	second := k.AllowAndCount("acme", "capsule.http")
	if second.Allowed || second.Reason != "limit_exceeded" {
		t.Fatalf("second call should be denied with limit_exceeded, got %+v", second)
	}
}

func TestIndependentCountersAcrossTenants(t *testing.T) {
	k := New(Config{
		TenantingEnabled: true,
		TenantDefaults: map[string]QuotaSpec{
			"a": {Limit: 2, WindowSeconds: 60},
			"b": {Limit: 2, WindowSeconds: 60},
		},
	})

	want := []bool{true, true, false}
	for i, w := range want {
		if got := k.AllowAndCount("a", "capsule.echo").Allowed; got != w {
			t.Fatalf("tenant a call %d: allowed=%v, want %v", i, got, w)
		}
	}
	for i := 0; i < 2; i++ {
		if !k.AllowAndCount("b", "capsule.echo").Allowed {
			t.Fatalf("tenant b call %d should be allowed independently of tenant a", i)
		}
	}
}

func TestTenantingDisabledSharesGlobalCounter(t *testing.T) {
	k := New(Config{
		TenantingEnabled: false,
		TenantDefaults:   map[string]QuotaSpec{"a": {Limit: 5, WindowSeconds: 60}},
		Global:           &QuotaSpec{Limit: 1, WindowSeconds: 60},
	})

	if !k.AllowAndCount("a", "capsule.echo").Allowed {
		t.Fatal("first call across shared GLOBAL counter should be allowed")
	}
	if k.AllowAndCount("b", "capsule.echo").Allowed {
		t.Fatal("second call from a different tenant should share the same GLOBAL counter and be denied")
	}
}

func TestWindowResetsAfterElapsed(t *testing.T) {
	k := New(Config{
		TenantingEnabled: true,
		TenantDefaults:   map[string]QuotaSpec{"a": {Limit: 1, WindowSeconds: 1}},
	})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return clock }

	if !k.AllowAndCount("a", "capsule.echo").Allowed {
		t.Fatal("first call should be allowed")
	}
	if k.AllowAndCount("a", "capsule.echo").Allowed {
		t.Fatal("second call within the same window should be denied")
	}

	clock = clock.Add(2 * time.Second)
	if !k.AllowAndCount("a", "capsule.echo").Allowed {
		t.Fatal("call after the window elapsed should reset the counter and be allowed")
	}
}
