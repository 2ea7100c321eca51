package eventlog

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/demon-run/ritual-control/internal/errkit"
)

// Publish appends event to the stream under subject, de-duplicating on
// msgID within the bundle's configured duplicate-detection window. A
// duplicate msgID is a no-op success, giving at-most-once effect
// despite at-least-once delivery. Publish retries transient bus
// failures with exponential backoff up to 3 attempts; persistent
// failure surfaces as a Bus-kind error.
func (l *Log) Publish(ctx context.Context, subject string, event Event, msgID string) error {
	if msgID == "" {
		return errkit.Newf(errkit.Bus, "eventlog: msgId must not be empty")
	}
	payload, err := event.MarshalJSON()
	if err != nil {
		return errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: marshaling event: %w", err))
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		return l.publishOnce(ctx, subject, payload, msgID)
	}, policy)
}

func (l *Log) publishOnce(ctx context.Context, subject string, payload []byte, msgID string) error {
	dedupKey := "eventlog:dedup:" + msgID
	reserved, err := l.rdb.SetNX(ctx, dedupKey, subject, l.dedupWindow).Result()
	if err != nil {
		return errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: reserving dedup key: %w", err))
	}
	if !reserved {
		// Within the duplicate-detection window: already published.
		return nil
	}

	_, err = l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: l.streamKey,
		Values: map[string]any{
			"subject": subject,
			"msgId":   msgID,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		// Release the dedup reservation so a retry can re-attempt the
		// publish instead of silently losing the event.
		l.rdb.Del(ctx, dedupKey)
		return errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: publishing to %s: %w", l.streamKey, err))
	}
	return nil
}
