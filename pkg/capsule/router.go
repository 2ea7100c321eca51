// Package capsule implements the capsule router: resolves a
// capability reference to a handler, gates dispatch through the policy
// kernel, and never lets a handler's failure escape as anything but an
// error envelope.
package capsule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/demon-run/ritual-control/pkg/envelope"
	"github.com/demon-run/ritual-control/pkg/eventlog"
	"github.com/demon-run/ritual-control/pkg/metrics"
	"github.com/demon-run/ritual-control/pkg/wards"
)

// Handler executes one capability. It may return an error; Router
// never lets that error, or a panic, propagate past Dispatch.
type Handler interface {
	Handle(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Router resolves capsule references to handlers and carries out the
// dispatch contract: consult policy, publish the decision, and only
// then execute.
type Router struct {
	kernel  *wards.Kernel
	log     *eventlog.Log
	logger  logr.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	handlers map[string]Handler
	breakers map[string]*gobreaker.CircuitBreaker
}

// WithMetrics attaches a metrics registry; every Dispatch call then
// records a quota decision and a dispatch outcome against it. Optional
// — a Router with no registry attached simply skips recording.
func (r *Router) WithMetrics(m *metrics.Registry) *Router {
	r.metrics = m
	return r
}

// New builds an empty Router bound to kernel and log.
func New(kernel *wards.Kernel, log *eventlog.Log, logger logr.Logger) *Router {
	return &Router{
		kernel:   kernel,
		log:      log,
		logger:   logger,
		handlers: map[string]Handler{},
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

// Register binds a capability name to its handler. Registration is the
// only way a name resolves — there is no dynamic class lookup.
func (r *Router) Register(capability string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[capability] = h
}

func (r *Router) breakerFor(capability string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[capability]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        capability,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.breakers[capability] = b
	return b
}

// Dispatch runs the full contract: consult the policy kernel, publish
// the decision, and on allow, execute the handler behind a
// per-capability circuit breaker.
func (r *Router) Dispatch(ctx context.Context, tenantID, capsuleRef string, args map[string]any, runID, ritualID string) envelope.Envelope {
	now := time.Now()
	decision := r.kernel.AllowAndCount(tenantID, capsuleRef)
	r.publishDecision(ctx, tenantID, capsuleRef, runID, ritualID, decision, now)
	if r.metrics != nil {
		r.metrics.RecordQuotaDecision(capsuleRef, decision.Allowed)
	}

	if !decision.Allowed {
		return r.outcome(capsuleRef, "quota_exceeded", envelope.NewBuilder().
			Error(fmt.Sprintf("quota exceeded for capability %s", capsuleRef), "quota_exceeded").
			Build())
	}

	r.mu.Lock()
	h, ok := r.handlers[capsuleRef]
	r.mu.Unlock()
	if !ok {
		return r.outcome(capsuleRef, "capsule_not_found", envelope.NewBuilder().
			Error(fmt.Sprintf("no handler registered for capability %s", capsuleRef), "capsule_not_found").
			Build())
	}

	data, err := r.execute(ctx, capsuleRef, h, args)
	if err != nil {
		return r.outcome(capsuleRef, "capsule_error", envelope.NewBuilder().Error(err.Error(), "capsule_error").Build())
	}
	if env, ok := data.(envelope.Envelope); ok {
		return r.outcome(capsuleRef, "ok", env)
	}
	return r.outcome(capsuleRef, "ok", envelope.NewBuilder().Success(data).Build())
}

func (r *Router) outcome(capsuleRef, code string, env envelope.Envelope) envelope.Envelope {
	if r.metrics != nil {
		r.metrics.RecordDispatchOutcome(capsuleRef, code)
	}
	return env
}

var tracer = otel.Tracer("github.com/demon-run/ritual-control/pkg/capsule")

// execute runs h through capsuleRef's circuit breaker and recovers any
// panic into an error — a handler bug must never take the router down.
// It is traced as its own span.
func (r *Router) execute(ctx context.Context, capsuleRef string, h Handler, args map[string]any) (result any, err error) {
	ctx, span := tracer.Start(ctx, "capsule.dispatch", trace.WithAttributes(attribute.String("demon.capsule", capsuleRef)))
	defer span.End()

	breaker := r.breakerFor(capsuleRef)
	out, breakerErr := breaker.Execute(func() (any, error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("capsule %s panicked: %v", capsuleRef, p)
			}
		}()
		return h.Handle(ctx, args)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if breakerErr != nil {
		span.RecordError(breakerErr)
		span.SetStatus(codes.Error, breakerErr.Error())
		return nil, breakerErr
	}
	return out, nil
}

func (r *Router) publishDecision(ctx context.Context, tenantID, capsuleRef, runID, ritualID string, decision wards.Decision, now time.Time) {
	fields := eventlog.PolicyDecisionFields{
		TenantID:   tenantID,
		Capability: capsuleRef,
		Allowed:    decision.Allowed,
		Reason:     decision.Reason,
		Limit:      decision.Limit,
		Window:     decision.WindowSeconds,
		Remaining:  decision.Remaining,
	}
	ev := eventlog.PolicyDecision(runID, ritualID, fields, now)
	subject := eventlog.Subject(ritualID, runID)
	msgID := eventlog.MsgIDDecision(runID, capsuleRef, now.UnixNano())
	if err := r.log.Publish(ctx, subject, ev, msgID); err != nil {
		r.logger.Error(err, "failed to publish policy decision", "runId", runID, "capability", capsuleRef)
	}
}
