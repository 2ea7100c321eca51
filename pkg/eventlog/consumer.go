package eventlog

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/demon-run/ritual-control/internal/errkit"
)

// Batch is one pull-consumer fetch: the decoded events plus their
// Redis entry ids, needed to acknowledge the batch once processed.
type Batch struct {
	Events []Event
	ids    []string
}

// FetchBatch pulls up to count unacknowledged messages for (group,
// consumer) from the stream's subject space. The consumer group is
// created on first use if it does not yet exist.
func (l *Log) FetchBatch(ctx context.Context, group, consumer string, count int64) (Batch, error) {
	if err := l.ensureGroup(ctx, group); err != nil {
		return Batch{}, err
	}

	streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.streamKey, ">"},
		Count:    count,
		Block:    -1,
	}).Result()
	if err != nil && err != redis.Nil {
		return Batch{}, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: fetching batch: %w", err))
	}

	var batch Batch
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			payload, _ := entry.Values["payload"].(string)
			var ev Event
			if err := ev.UnmarshalJSON([]byte(payload)); err != nil {
				return Batch{}, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: decoding batch entry %s: %w", entry.ID, err))
			}
			batch.Events = append(batch.Events, ev)
			batch.ids = append(batch.ids, entry.ID)
		}
	}
	return batch, nil
}

func (l *Log) ensureGroup(ctx context.Context, group string) error {
	err := l.rdb.XGroupCreateMkStream(ctx, l.streamKey, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: creating consumer group %s: %w", group, err))
	}
	return nil
}

// Ack acknowledges every message in batch.
func (l *Log) Ack(ctx context.Context, group string, batch Batch) error {
	if len(batch.ids) == 0 {
		return nil
	}
	if err := l.rdb.XAck(ctx, l.streamKey, group, batch.ids...).Err(); err != nil {
		return errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: acking batch: %w", err))
	}
	return nil
}
