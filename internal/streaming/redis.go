package streaming

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamKeyPrefix = "corpusflow:progress:"

// RedisMirror appends every progress event to a capped Redis Stream per run,
// so consumers can catch up after a worker restart.
type RedisMirror struct {
	client *redis.Client
	maxLen int64
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisMirror creates a mirror. maxLen caps each run's stream; ttl expires
// streams of finished runs.
func NewRedisMirror(client *redis.Client, maxLen int64, ttl time.Duration, logger *zap.Logger) *RedisMirror {
	if maxLen <= 0 {
		maxLen = 1024
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: client, maxLen: maxLen, ttl: ttl, logger: logger}
}

func streamKey(runID string) string { return streamKeyPrefix + runID }

// Append implements Mirror. Failures are logged and dropped; the in-memory
// path stays authoritative for connected consumers.
func (m *RedisMirror) Append(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	values := map[string]interface{}{
		"seq":              strconv.FormatUint(evt.Seq, 10),
		"stage":            evt.Stage,
		"progress_percent": strconv.Itoa(evt.ProgressPercent),
		"timestamp":        evt.Timestamp.Format(time.RFC3339Nano),
	}
	if evt.Status != "" {
		values["status"] = evt.Status
	}
	if evt.Message != "" {
		values["message"] = evt.Message
	}

	key := streamKey(evt.RunID)
	pipe := m.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.maxLen,
		Approx: true,
		Values: values,
	})
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("progress mirror append failed",
			zap.String("run_id", evt.RunID),
			zap.Error(err),
		)
	}
}

// History reads back up to count mirrored events for a run, oldest first.
func (m *RedisMirror) History(ctx context.Context, runID string, count int64) ([]Event, error) {
	msgs, err := m.client.XRangeN(ctx, streamKey(runID), "-", "+", count).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		evt := Event{RunID: runID}
		if v, ok := msg.Values["seq"].(string); ok {
			evt.Seq, _ = strconv.ParseUint(v, 10, 64)
		}
		if v, ok := msg.Values["stage"].(string); ok {
			evt.Stage = v
		}
		if v, ok := msg.Values["progress_percent"].(string); ok {
			evt.ProgressPercent, _ = strconv.Atoi(v)
		}
		if v, ok := msg.Values["status"].(string); ok {
			evt.Status = v
		}
		if v, ok := msg.Values["message"].(string); ok {
			evt.Message = v
		}
		if v, ok := msg.Values["timestamp"].(string); ok {
			evt.Timestamp, _ = time.Parse(time.RFC3339Nano, v)
		}
		events = append(events, evt)
	}
	return events, nil
}
