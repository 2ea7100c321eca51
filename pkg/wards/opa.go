package wards

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// RegoOverlay evaluates a rego policy bundle to supply a dynamic
// override ahead of the kernel's static precedence chain (SPEC_FULL
// §3). The policy is expected to define a single rule,
// data.wards.quota, that returns either an object {"limit": n,
// "window_seconds": n} or undefined when it does not wish to override
// the static chain for the given (tenant, capability).
type RegoOverlay struct {
	query rego.PreparedEvalQuery
}

// NewRegoOverlay compiles moduleSource (rego source text, not a file
// path), registered under moduleName, into a prepared query.
func NewRegoOverlay(ctx context.Context, moduleName, moduleSource string) (*RegoOverlay, error) {
	query, err := rego.New(
		rego.Query("data.wards.quota"),
		rego.Module(moduleName, moduleSource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("wards: compiling rego overlay: %w", err)
	}
	return &RegoOverlay{query: query}, nil
}

// Resolve implements Overlay.
func (o *RegoOverlay) Resolve(tenant, capability string) (QuotaSpec, bool) {
	input := map[string]any{
		"tenant":     tenant,
		"capability": capability,
	}
	rs, err := o.query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return QuotaSpec{}, false
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return QuotaSpec{}, false
	}
	limit, ok := toInt(obj["limit"])
	if !ok {
		return QuotaSpec{}, false
	}
	window, ok := toInt(obj["window_seconds"])
	if !ok || window <= 0 {
		return QuotaSpec{}, false
	}
	return QuotaSpec{Limit: limit, WindowSeconds: window}, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
