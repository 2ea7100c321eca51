package wards

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/demon-run/ritual-control/internal/errkit"
)

// ParseQuotaSpec parses a "<limit>:<window>" pair such as "5:60".
func ParseQuotaSpec(s string) (QuotaSpec, error) {
	limitStr, windowStr, ok := strings.Cut(s, ":")
	if !ok {
		return QuotaSpec{}, errkit.Newf(errkit.Config, "wards: malformed quota %q, want <limit>:<window>", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return QuotaSpec{}, errkit.Newf(errkit.Config, "wards: malformed limit in %q: %w", s, err)
	}
	window, err := strconv.Atoi(strings.TrimSpace(windowStr))
	if err != nil {
		return QuotaSpec{}, errkit.Newf(errkit.Config, "wards: malformed window in %q: %w", s, err)
	}
	if limit < 0 || window <= 0 {
		return QuotaSpec{}, errkit.Newf(errkit.Config, "wards: quota %q must have limit>=0 and window>0", s)
	}
	return QuotaSpec{Limit: limit, WindowSeconds: window}, nil
}

// ParseCompact parses the compact WARDS_CAP_QUOTAS grammar:
//
//	GLOBAL:<cap>=<limit>:<window>,TENANT:<tenant>:<cap>=<limit>:<window>,...
//
// Any malformed clause fails the whole parse: malformed quota entries
// must fail startup rather than silently falling back to a default.
func ParseCompact(s string) (globalByCap map[string]QuotaSpec, capOverrides map[string]map[string]QuotaSpec, err error) {
	globalByCap = map[string]QuotaSpec{}
	capOverrides = map[string]map[string]QuotaSpec{}

	s = strings.TrimSpace(s)
	if s == "" {
		return globalByCap, capOverrides, nil
	}

	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		scope, rest, ok := strings.Cut(clause, ":")
		if !ok {
			return nil, nil, errkit.Newf(errkit.Config, "wards: malformed clause %q", clause)
		}
		switch scope {
		case "GLOBAL":
			cap, quota, ok := strings.Cut(rest, "=")
			if !ok || cap == "" {
				return nil, nil, errkit.Newf(errkit.Config, "wards: malformed GLOBAL clause %q", clause)
			}
			spec, perr := ParseQuotaSpec(quota)
			if perr != nil {
				return nil, nil, perr
			}
			globalByCap[cap] = spec
		case "TENANT":
			tenantAndCap, quota, ok := strings.Cut(rest, "=")
			if !ok {
				return nil, nil, errkit.Newf(errkit.Config, "wards: malformed TENANT clause %q", clause)
			}
			tenant, cap, ok := strings.Cut(tenantAndCap, ":")
			if !ok || tenant == "" || cap == "" {
				return nil, nil, errkit.Newf(errkit.Config, "wards: malformed TENANT clause %q, want TENANT:<tenant>:<cap>=<limit>:<window>", clause)
			}
			spec, perr := ParseQuotaSpec(quota)
			if perr != nil {
				return nil, nil, perr
			}
			if capOverrides[tenant] == nil {
				capOverrides[tenant] = map[string]QuotaSpec{}
			}
			capOverrides[tenant][cap] = spec
		default:
			return nil, nil, errkit.Newf(errkit.Config, "wards: unknown clause scope %q in %q, want GLOBAL or TENANT", scope, clause)
		}
	}
	return globalByCap, capOverrides, nil
}

// ParseTenantDefaults parses the WARDS_QUOTAS grammar:
//
//	tenant1=<limit>:<window>,tenant2=<limit>:<window>,...
func ParseTenantDefaults(s string) (map[string]QuotaSpec, error) {
	out := map[string]QuotaSpec{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		tenant, quota, ok := strings.Cut(clause, "=")
		if !ok || tenant == "" {
			return nil, errkit.Newf(errkit.Config, "wards: malformed tenant quota clause %q, want <tenant>=<limit>:<window>", clause)
		}
		spec, err := ParseQuotaSpec(quota)
		if err != nil {
			return nil, err
		}
		out[tenant] = spec
	}
	return out, nil
}

// ConfigFromEnv builds a Kernel Config from the three environment
// variables WARDS_GLOBAL_QUOTA, WARDS_QUOTAS, and WARDS_CAP_QUOTAS.
func ConfigFromEnv(tenantingEnabled bool, globalQuota, tenantQuotas, capQuotas string) (Config, error) {
	cfg := Config{TenantingEnabled: tenantingEnabled}

	if strings.TrimSpace(globalQuota) != "" {
		spec, err := ParseQuotaSpec(globalQuota)
		if err != nil {
			return Config{}, fmt.Errorf("WARDS_GLOBAL_QUOTA: %w", err)
		}
		cfg.Global = &spec
	}

	tenantDefaults, err := ParseTenantDefaults(tenantQuotas)
	if err != nil {
		return Config{}, fmt.Errorf("WARDS_QUOTAS: %w", err)
	}
	cfg.TenantDefaults = tenantDefaults

	globalByCap, capOverrides, err := ParseCompact(capQuotas)
	if err != nil {
		return Config{}, fmt.Errorf("WARDS_CAP_QUOTAS: %w", err)
	}
	cfg.GlobalByCap = globalByCap
	cfg.CapOverrides = capOverrides

	return cfg, nil
}
