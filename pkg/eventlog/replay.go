package eventlog

import (
	"context"
	"fmt"

	"github.com/demon-run/ritual-control/internal/errkit"
)

// ReadRun returns every event published for (ritualID, runID), in
// publish order. Replay is deterministic: given the same stream
// contents, two calls return identical sequences, because Redis
// Streams preserve insertion order and this method performs no
// reordering.
func (l *Log) ReadRun(ctx context.Context, ritualID, runID string) ([]Event, error) {
	subject := Subject(ritualID, runID)

	entries, err := l.rdb.XRange(ctx, l.streamKey, "-", "+").Result()
	if err != nil {
		return nil, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: reading stream %s: %w", l.streamKey, err))
	}

	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		subjectField, _ := entry.Values["subject"].(string)
		if subjectField != subject {
			continue
		}
		payload, _ := entry.Values["payload"].(string)
		var ev Event
		if err := ev.UnmarshalJSON([]byte(payload)); err != nil {
			return nil, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: decoding entry %s: %w", entry.ID, err))
		}
		events = append(events, ev)
	}
	return events, nil
}

// ReadAll returns every event on the stream across every run, in
// publish order. Callers that need to re-derive cross-run state on
// every pass (rather than consuming-and-acking a pull consumer's
// batch) use this instead of FetchBatch/Ack, since a consumer group's
// PEL permanently drops an entry once acked and so cannot answer "is
// X still true" on a later pass.
func (l *Log) ReadAll(ctx context.Context) ([]Event, error) {
	entries, err := l.rdb.XRange(ctx, l.streamKey, "-", "+").Result()
	if err != nil {
		return nil, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: reading stream %s: %w", l.streamKey, err))
	}

	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		payload, _ := entry.Values["payload"].(string)
		var ev Event
		if err := ev.UnmarshalJSON([]byte(payload)); err != nil {
			return nil, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: decoding entry %s: %w", entry.ID, err))
		}
		events = append(events, ev)
	}
	return events, nil
}
