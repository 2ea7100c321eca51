// Package wards implements the policy kernel: per-(tenant,capability)
// token-bucket-style fixed-window quotas with precedence rules (spec
// §4.2).
package wards

import (
	"sync"
	"time"
)

// QuotaSpec is a resolved limit/window pair.
type QuotaSpec struct {
	Limit         int
	WindowSeconds int
}

// Decision is the outcome of a single AllowAndCount call.
type Decision struct {
	Allowed       bool
	Limit         int
	WindowSeconds int
	Remaining     int
	Reason        string // "limit_exceeded" on denial, empty on allow
}

// fallback is the deny-by-default tier, applied when no other
// precedence tier resolves a quota for the (tenant, capability) pair.
var fallback = QuotaSpec{Limit: 0, WindowSeconds: 60}

type counter struct {
	windowStart time.Time
	count       int
}

// Kernel is the process-local quota evaluator. The zero value is not
// usable; construct with New.
type Kernel struct {
	tenantingEnabled bool
	global           QuotaSpec
	hasGlobal        bool
	tenantDefaults   map[string]QuotaSpec
	globalByCap      map[string]QuotaSpec // capability -> spec, from the compact GLOBAL:<cap>= clauses
	capOverrides     map[string]QuotaSpec // key: "ten:<tenant>|cap:<capability>"
	overlay          Overlay              // optional OPA-backed dynamic override, may be nil

	mu       sync.Mutex
	counters map[string]*counter

	now func() time.Time
}

// Overlay supplies a dynamic override ahead of the static precedence
// chain (see pkg/wards/opa.go for the OPA-backed implementation).
type Overlay interface {
	// Resolve returns an override quota for (tenant, capability) and
	// true if one applies, or false to fall through to the static
	// chain.
	Resolve(tenant, capability string) (QuotaSpec, bool)
}

// Config seeds a Kernel's static quota tiers.
type Config struct {
	TenantingEnabled bool
	Global           *QuotaSpec
	GlobalByCap      map[string]QuotaSpec            // capability -> spec
	TenantDefaults   map[string]QuotaSpec            // key: tenant
	CapOverrides     map[string]map[string]QuotaSpec // key: tenant -> capability -> spec
	Overlay          Overlay
}

// New builds a Kernel from a Config.
func New(cfg Config) *Kernel {
	k := &Kernel{
		tenantingEnabled: cfg.TenantingEnabled,
		tenantDefaults:   map[string]QuotaSpec{},
		globalByCap:      map[string]QuotaSpec{},
		capOverrides:     map[string]QuotaSpec{},
		overlay:          cfg.Overlay,
		counters:         map[string]*counter{},
		now:              time.Now,
	}
	if cfg.Global != nil {
		k.global = *cfg.Global
		k.hasGlobal = true
	}
	for tenant, spec := range cfg.TenantDefaults {
		k.tenantDefaults[tenant] = spec
	}
	for cap, spec := range cfg.GlobalByCap {
		k.globalByCap[cap] = spec
	}
	for tenant, caps := range cfg.CapOverrides {
		for cap, spec := range caps {
			k.capOverrides[counterKey(tenant, cap)] = spec
		}
	}
	return k
}

// counterKey builds the "ten:<tenant>|cap:<capability>" counter map key.
func counterKey(tenant, capability string) string {
	return "ten:" + tenant + "|cap:" + capability
}

func (k *Kernel) effectiveTenant(tenant string) string {
	if !k.tenantingEnabled {
		return "GLOBAL"
	}
	return tenant
}

// resolve applies the precedence chain: per-(tenant,cap) override,
// then per-tenant default, then global default, then deny-by-default
// fallback. An Overlay, if configured, is consulted first and wins
// outright when it applies.
func (k *Kernel) resolve(tenant, capability string) QuotaSpec {
	if k.overlay != nil {
		if spec, ok := k.overlay.Resolve(tenant, capability); ok {
			return spec
		}
	}
	if spec, ok := k.capOverrides[counterKey(tenant, capability)]; ok {
		return spec
	}
	if spec, ok := k.tenantDefaults[tenant]; ok {
		return spec
	}
	if spec, ok := k.globalByCap[capability]; ok {
		return spec
	}
	if k.hasGlobal {
		return k.global
	}
	return fallback
}

// AllowAndCount evaluates and records a single quota decision for
// (tenant, capability), applying the fixed-window algorithm from spec
// §4.2. Callers are responsible for publishing the accompanying
// policy.decision:v1 event (see pkg/capsule's router, which is the
// only caller in this module).
func (k *Kernel) AllowAndCount(tenant, capability string) Decision {
	tenant = k.effectiveTenant(tenant)
	spec := k.resolve(tenant, capability)
	key := counterKey(tenant, capability)

	k.mu.Lock()
	defer k.mu.Unlock()

	c, ok := k.counters[key]
	now := k.now()
	if !ok {
		c = &counter{windowStart: now}
		k.counters[key] = c
	} else if now.Sub(c.windowStart) >= time.Duration(spec.WindowSeconds)*time.Second {
		c.count = 0
		c.windowStart = now
	}

	if c.count < spec.Limit {
		c.count++
		return Decision{
			Allowed:       true,
			Limit:         spec.Limit,
			WindowSeconds: spec.WindowSeconds,
			Remaining:     spec.Limit - c.count,
		}
	}
	return Decision{
		Allowed:       false,
		Limit:         spec.Limit,
		WindowSeconds: spec.WindowSeconds,
		Remaining:     0,
		Reason:        "limit_exceeded",
	}
}
