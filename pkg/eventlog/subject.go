package eventlog

import "fmt"

// SubjectFilter is the wildcard subject filter the stream is bound to.
const SubjectFilter = "demon.ritual.v1.>"

// Subject returns the per-run event subject:
// demon.ritual.v1.<ritualId>.<runId>.events
func Subject(ritualID, runID string) string {
	return fmt.Sprintf("demon.ritual.v1.%s.%s.events", ritualID, runID)
}

// The Msg-id builders below give every logical event kind a
// deterministic, unique message id so the bus's duplicate detection
// window is the sole source of at-most-once effect.

func MsgIDStart(runID string) string { return runID + ":start" }

func MsgIDTransition(runID string, seq int) string {
	return fmt.Sprintf("%s:transition:%d", runID, seq)
}

func MsgIDComplete(runID string) string { return runID + ":complete" }

func MsgIDDecision(runID, capability string, nanos int64) string {
	return fmt.Sprintf("%s:decision:%s:%d", runID, capability, nanos)
}

func MsgIDApprovalRequest(runID, gateID string) string {
	return fmt.Sprintf("%s:approval-req:%s", runID, gateID)
}

func MsgIDApprovalResolution(runID, gateID string) string {
	return fmt.Sprintf("%s:approval-res:%s", runID, gateID)
}

func MsgIDTimerScheduled(runID, timerID string) string {
	return fmt.Sprintf("%s:timer-sched:%s", runID, timerID)
}

func MsgIDTimerFired(runID, timerID string) string {
	return fmt.Sprintf("%s:timer-fired:%s", runID, timerID)
}
