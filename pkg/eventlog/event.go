package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind enumerates the event kinds the core emits or must be able to
// decode on replay.
type Kind string

const (
	KindRitualStarted      Kind = "ritual.started:v1"
	KindRitualTransitioned Kind = "ritual.transitioned:v1"
	KindRitualCompleted    Kind = "ritual.completed:v1"
	KindPolicyDecision     Kind = "policy.decision:v1"
	KindApprovalRequested  Kind = "approval.requested:v1"
	KindApprovalGranted    Kind = "approval.granted:v1"
	KindApprovalDenied     Kind = "approval.denied:v1"
	KindTimerScheduled     Kind = "timer.scheduled:v1"
	KindTimerFired         Kind = "timer.fired:v1"
	KindAgentScaleHint     Kind = "agent.scale.hint:v1"
	KindGraphTagUpdated    Kind = "graph.tag.updated:v1"
)

// Event is the append-only record shape: four fields every kind
// shares, plus kind-specific fields flattened at the same JSON level,
// carried here in Fields.
type Event struct {
	Kind     Kind
	Ts       time.Time
	RunID    string
	RitualID string
	Fields   map[string]any
}

// New builds an Event with ts set to now.
func New(kind Kind, runID, ritualID string, now time.Time, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{Kind: kind, Ts: now, RunID: runID, RitualID: ritualID, Fields: fields}
}

func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		flat[k] = v
	}
	flat["event"] = e.Kind
	flat["ts"] = e.Ts.Format(time.RFC3339Nano)
	flat["runId"] = e.RunID
	flat["ritualId"] = e.RitualID
	return json.Marshal(flat)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("eventlog: decoding event: %w", err)
	}
	kind, _ := flat["event"].(string)
	runID, _ := flat["runId"].(string)
	ritualID, _ := flat["ritualId"].(string)
	tsStr, _ := flat["ts"].(string)

	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return fmt.Errorf("eventlog: decoding ts %q: %w", tsStr, err)
		}
	}

	delete(flat, "event")
	delete(flat, "ts")
	delete(flat, "runId")
	delete(flat, "ritualId")

	e.Kind = Kind(kind)
	e.RunID = runID
	e.RitualID = ritualID
	e.Ts = ts
	e.Fields = flat
	return nil
}

// Constructors for each kind, one per extra-fields shape.

func RitualStarted(runID, ritualID string, now time.Time) Event {
	return New(KindRitualStarted, runID, ritualID, now, nil)
}

func RitualTransitioned(runID, ritualID, stateFrom, stateTo string, now time.Time) Event {
	return New(KindRitualTransitioned, runID, ritualID, now, map[string]any{
		"stateFrom": stateFrom,
		"stateTo":   stateTo,
	})
}

func RitualCompleted(runID, ritualID string, outputs any, now time.Time) Event {
	return New(KindRitualCompleted, runID, ritualID, now, map[string]any{
		"outputs": outputs,
	})
}

// PolicyDecisionFields mirrors the nested decision/quota objects
// carried on a policy.decision:v1 event.
type PolicyDecisionFields struct {
	TenantID   string
	Capability string
	Allowed    bool
	Reason     string
	Limit      int
	Window     int
	Remaining  int
}

func PolicyDecision(runID, ritualID string, f PolicyDecisionFields, now time.Time) Event {
	decision := map[string]any{"allowed": f.Allowed}
	if f.Reason != "" {
		decision["reason"] = f.Reason
	}
	return New(KindPolicyDecision, runID, ritualID, now, map[string]any{
		"tenantId":   f.TenantID,
		"capability": f.Capability,
		"decision":   decision,
		"quota": map[string]any{
			"limit":         f.Limit,
			"windowSeconds": f.Window,
			"remaining":     f.Remaining,
		},
	})
}

func ApprovalRequested(runID, ritualID, gateID, requester, reason string, now time.Time) Event {
	return New(KindApprovalRequested, runID, ritualID, now, map[string]any{
		"gateId":    gateID,
		"requester": requester,
		"reason":    reason,
	})
}

func ApprovalGranted(runID, ritualID, gateID, approver, note string, now time.Time) Event {
	fields := map[string]any{"gateId": gateID, "approver": approver}
	if note != "" {
		fields["note"] = note
	}
	return New(KindApprovalGranted, runID, ritualID, now, fields)
}

func ApprovalDenied(runID, ritualID, gateID, approver, reason string, now time.Time) Event {
	fields := map[string]any{"gateId": gateID, "approver": approver}
	if reason != "" {
		fields["reason"] = reason
	}
	return New(KindApprovalDenied, runID, ritualID, now, fields)
}

func TimerScheduled(runID, ritualID, timerID string, scheduledFor time.Time, now time.Time) Event {
	return New(KindTimerScheduled, runID, ritualID, now, map[string]any{
		"timerId":      timerID,
		"scheduledFor": scheduledFor.Format(time.RFC3339Nano),
	})
}

func TimerFired(runID, ritualID, timerID string, now time.Time) Event {
	return New(KindTimerFired, runID, ritualID, now, map[string]any{
		"timerId": timerID,
	})
}

// AgentScaleHint and GraphTagUpdated are decodable even though the
// core never emits them itself — the autoscale-hint-handler and
// graph-viewer collaborators that do are explicitly out of scope; the
// core still must replay a stream that contains them (SPEC_FULL §4).

type AgentScaleHintFields struct {
	TenantID       string
	Recommendation string // scale_up | scale_down | steady
	Metrics        map[string]any
	Thresholds     map[string]any
	Hysteresis     map[string]any
	Reason         string
}

func AgentScaleHint(runID, ritualID string, f AgentScaleHintFields, now time.Time) Event {
	return New(KindAgentScaleHint, runID, ritualID, now, map[string]any{
		"tenantId":       f.TenantID,
		"recommendation": f.Recommendation,
		"metrics":        f.Metrics,
		"thresholds":     f.Thresholds,
		"hysteresis":     f.Hysteresis,
		"reason":         f.Reason,
	})
}

func GraphTagUpdated(runID, ritualID string, fields map[string]any, now time.Time) Event {
	return New(KindGraphTagUpdated, runID, ritualID, now, fields)
}
