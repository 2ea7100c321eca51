// Package metrics defines the control plane's prometheus instruments.
// Exposing them over HTTP is an explicit Non-goal of the core (spec
// §2); internal/healthsrv mounts the handler for a composition root
// that chooses to serve it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every instrument this module records to. Construct
// with New and register it with a prometheus.Registerer at the
// composition root.
type Registry struct {
	QuotaDecisions   *prometheus.CounterVec
	DispatchOutcomes *prometheus.CounterVec
	TTLBatches       prometheus.Counter
	TTLDenials       prometheus.Counter
	TimersFired      prometheus.Counter
}

// New builds a Registry. Call MustRegister to attach it to a
// prometheus.Registerer.
func New() *Registry {
	return &Registry{
		QuotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "demon",
			Subsystem: "wards",
			Name:      "quota_decisions_total",
			Help:      "Policy kernel allow/deny decisions, by capability and outcome.",
		}, []string{"capability", "allowed"}),
		DispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "demon",
			Subsystem: "capsule",
			Name:      "dispatch_outcomes_total",
			Help:      "Capsule dispatch outcomes, by capability and result code.",
		}, []string{"capability", "code"}),
		TTLBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demon",
			Subsystem: "ttlworker",
			Name:      "batches_total",
			Help:      "TTL worker batches processed.",
		}),
		TTLDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demon",
			Subsystem: "ttlworker",
			Name:      "expiry_denials_total",
			Help:      "Approval gates denied by the TTL worker due to expiry.",
		}),
		TimersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "demon",
			Subsystem: "timers",
			Name:      "fired_total",
			Help:      "Approval expiry timers marked fired by the TTL worker.",
		}),
	}
}

// MustRegister attaches every instrument in r to reg.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.QuotaDecisions, r.DispatchOutcomes, r.TTLBatches, r.TTLDenials, r.TimersFired)
}

// RecordQuotaDecision records one policy kernel decision.
func (r *Registry) RecordQuotaDecision(capability string, allowed bool) {
	r.QuotaDecisions.WithLabelValues(capability, boolLabel(allowed)).Inc()
}

// RecordDispatchOutcome records one capsule dispatch's result code
// ("ok", "quota_exceeded", "capsule_not_found", "capsule_error").
func (r *Registry) RecordDispatchOutcome(capability, code string) {
	r.DispatchOutcomes.WithLabelValues(capability, code).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
