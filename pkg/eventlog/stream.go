// Package eventlog implements the durable, idempotent, per-run event
// log: stream bootstrap, msg-id-deduplicated publish, and
// deterministic per-run replay, backed by Redis Streams standing in
// for a JetStream-style bus (see DESIGN.md).
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/demon-run/ritual-control/internal/errkit"
)

// DefaultStreamName and LegacyStreamName are the stream names this
// module recognizes.
const (
	DefaultStreamName = "RITUAL_EVENTS"
	LegacyStreamName  = "DEMON_RITUAL_EVENTS"
)

// Log is the event log handle. The zero value is not usable;
// construct with Open.
type Log struct {
	rdb         *redis.Client
	streamKey   string
	dedupWindow time.Duration
	log         logr.Logger
}

// Open ensures the configured stream exists (creating it unless a
// legacy-named stream is already serving) and returns a ready-to-use
// Log.
func Open(ctx context.Context, rdb *redis.Client, streamName string, dedupWindow time.Duration, log logr.Logger) (*Log, error) {
	if streamName == "" {
		streamName = DefaultStreamName
	}
	resolved, err := ensureStream(ctx, rdb, streamName, log)
	if err != nil {
		return nil, err
	}
	return &Log{rdb: rdb, streamKey: resolved, dedupWindow: dedupWindow, log: log}, nil
}

func ensureStream(ctx context.Context, rdb *redis.Client, name string, log logr.Logger) (string, error) {
	exists, err := streamExists(ctx, rdb, name)
	if err != nil {
		return "", err
	}
	if exists {
		return name, nil
	}

	if name != LegacyStreamName {
		legacyExists, err := streamExists(ctx, rdb, LegacyStreamName)
		if err != nil {
			return "", err
		}
		if legacyExists {
			log.Info("migration notice: using legacy stream, not creating new stream",
				"legacyStream", LegacyStreamName, "configuredStream", name)
			return LegacyStreamName, nil
		}
	}

	// MKSTREAM via a throwaway group creation; the group itself is
	// unused by Publish/ReadRun (they address the stream directly) but
	// this is the idiomatic way to materialize an empty Redis stream.
	err = rdb.XGroupCreateMkStream(ctx, name, "bootstrap", "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroupErr(err) {
		return "", errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: creating stream %s: %w", name, err))
	}
	return name, nil
}

func streamExists(ctx context.Context, rdb *redis.Client, name string) (bool, error) {
	n, err := rdb.Exists(ctx, name).Result()
	if err != nil {
		return false, errkit.Wrap(errkit.Bus, fmt.Errorf("eventlog: checking stream %s: %w", name, err))
	}
	return n > 0, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

// StreamKey returns the Redis key backing the active stream (which may
// be the legacy name, per the migration notice above).
func (l *Log) StreamKey() string { return l.streamKey }
