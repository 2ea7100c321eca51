package ritual

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"

	"github.com/demon-run/ritual-control/pkg/capsule"
	"github.com/demon-run/ritual-control/pkg/envelope"
	"github.com/demon-run/ritual-control/pkg/eventlog"
)

// Engine executes a loaded ritual Spec state by state, dispatching
// tasks through a capsule.Router and publishing lifecycle events
// through an eventlog.Log.
type Engine struct {
	router *capsule.Router
	log    *eventlog.Log
	logger logr.Logger
}

// New builds an Engine bound to router and log.
func New(router *capsule.Router, log *eventlog.Log, logger logr.Logger) *Engine {
	return &Engine{router: router, log: log, logger: logger}
}

// Outcome is what Run returns once a ritual reaches its terminal
// state: the generated runId, the terminal state's envelope, and any
// diagnostics accumulated along the way (including the spec-load
// warning for an unterminated spec, if any).
type Outcome struct {
	RunID       string
	Envelope    envelope.Envelope
	Diagnostics []envelope.Diagnostic
}

// Run executes spec to completion for tenantID, publishing
// ritual.started:v1, one ritual.transitioned:v1 per state, and a
// final ritual.completed:v1 carrying the terminal envelope's outputs.
func (e *Engine) Run(ctx context.Context, spec Spec, tenantID string, loadDiagnostics []envelope.Diagnostic) (Outcome, error) {
	runID := uuid.NewString()
	now := time.Now()
	subject := eventlog.Subject(spec.ID, runID)

	if err := e.log.Publish(ctx, subject, eventlog.RitualStarted(runID, spec.ID, now), eventlog.MsgIDStart(runID)); err != nil {
		return Outcome{}, fmt.Errorf("ritual: publishing ritual.started for run %s: %w", runID, err)
	}

	diagnostics := append([]envelope.Diagnostic{}, loadDiagnostics...)
	var prevStateName string
	var prevOutput any
	var finalEnvelope envelope.Envelope

	for seq, state := range spec.States {
		env, err := e.runState(ctx, state, tenantID, runID, spec.ID, prevOutput)
		if err != nil {
			return Outcome{}, err
		}

		now = time.Now()
		transition := eventlog.RitualTransitioned(runID, spec.ID, prevStateName, state.Name, now)
		if err := e.log.Publish(ctx, subject, transition, eventlog.MsgIDTransition(runID, seq)); err != nil {
			return Outcome{}, fmt.Errorf("ritual: publishing ritual.transitioned for run %s: %w", runID, err)
		}

		prevStateName = state.Name
		prevOutput = env.Result.Data
		finalEnvelope = env
		diagnostics = append(diagnostics, env.Diagnostics...)

		if state.Terminal {
			outputs := env.Result.Data
			if !env.Result.Success {
				outputs = env.Result.Error
			}
			now = time.Now()
			completed := eventlog.RitualCompleted(runID, spec.ID, outputs, now)
			if err := e.log.Publish(ctx, subject, completed, eventlog.MsgIDComplete(runID)); err != nil {
				return Outcome{}, fmt.Errorf("ritual: publishing ritual.completed for run %s: %w", runID, err)
			}
			break
		}
	}

	return Outcome{RunID: runID, Envelope: finalEnvelope, Diagnostics: diagnostics}, nil
}

func (e *Engine) runState(ctx context.Context, state State, tenantID, runID, ritualID string, prevOutput any) (envelope.Envelope, error) {
	switch state.Type {
	case "task":
		args, err := resolveArguments(state.Action.Arguments, prevOutput)
		if err != nil {
			return envelope.Envelope{}, fmt.Errorf("ritual: resolving arguments for state %q: %w", state.Name, err)
		}
		env := e.router.Dispatch(ctx, tenantID, state.Action.Capsule, args, runID, ritualID)
		return env, nil
	default:
		return envelope.Envelope{}, fmt.Errorf("ritual: state %q has unsupported type %q", state.Name, state.Type)
	}
}

// resolveArguments copies args, evaluating a "fromPrevious" jq filter
// string against prevOutput (the previous state's envelope data) and
// splicing the result's fields on top of the copy (supplement
// recovered from the original's argument-resolution pass; see
// DESIGN.md). Arguments without "fromPrevious" pass through unchanged.
func resolveArguments(args map[string]any, prevOutput any) (map[string]any, error) {
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		if k == "fromPrevious" {
			continue
		}
		resolved[k] = v
	}

	filterSrc, ok := args["fromPrevious"].(string)
	if !ok || filterSrc == "" {
		return resolved, nil
	}

	query, err := gojq.Parse(filterSrc)
	if err != nil {
		return nil, fmt.Errorf("parsing fromPrevious filter %q: %w", filterSrc, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compiling fromPrevious filter %q: %w", filterSrc, err)
	}

	iter := code.Run(prevOutput)
	v, hasResult := iter.Next()
	if !hasResult {
		return resolved, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("evaluating fromPrevious filter %q: %w", filterSrc, err)
	}

	if spliced, ok := v.(map[string]any); ok {
		for k, sv := range spliced {
			resolved[k] = sv
		}
	} else {
		resolved["fromPrevious"] = v
	}
	return resolved, nil
}
