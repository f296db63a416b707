// Package redislog provides a Redis implementation of workflow.StepLog.
//
// Each record is a JSON string at ticketflow:step:<eventId>:<step>, written
// with SET NX so the first write wins. A sorted set per event, scored by
// recorded time, indexes the steps for List.
package redislog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

const keyPrefix = "ticketflow:step:"

// Log persists step records in Redis.
type Log struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New returns a Log on rdb. Records expire after ttl; zero keeps them
// forever.
func New(rdb redis.Cmdable, ttl time.Duration) *Log {
	return &Log{rdb: rdb, ttl: ttl}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func recordKey(eventID, step string) string { return keyPrefix + eventID + ":" + step }
func indexKey(eventID string) string        { return keyPrefix + eventID }

// Get retrieves the record for (eventID, step).
func (l *Log) Get(ctx context.Context, eventID, step string) (*workflow.StepRecord, bool, error) {
	raw, err := l.rdb.Get(ctx, recordKey(eventID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get step record: %w", err)
	}
	var rec workflow.StepRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode step record: %w", err)
	}
	return &rec, true, nil
}

// Put writes rec unless the key exists.
func (l *Log) Put(ctx context.Context, rec *workflow.StepRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode step record: %w", err)
	}
	ok, err := l.rdb.SetNX(ctx, recordKey(rec.EventID, rec.Step), raw, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("set step record: %w", err)
	}
	if !ok {
		return workflow.ErrRecordExists
	}

	idx := indexKey(rec.EventID)
	if err := l.rdb.ZAdd(ctx, idx, redis.Z{Score: float64(rec.RecordedAt.UnixMicro()), Member: rec.Step}).Err(); err != nil {
		return fmt.Errorf("index step record: %w", err)
	}
	if l.ttl > 0 {
		if err := l.rdb.Expire(ctx, idx, l.ttl).Err(); err != nil {
			return fmt.Errorf("expire step index: %w", err)
		}
	}
	return nil
}

// List returns every record for eventID ordered by recorded time. Index
// entries whose record expired are skipped.
func (l *Log) List(ctx context.Context, eventID string) ([]workflow.StepRecord, error) {
	steps, err := l.rdb.ZRange(ctx, indexKey(eventID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list step index: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}

	keys := make([]string, len(steps))
	for i, s := range steps {
		keys[i] = recordKey(eventID, s)
	}
	vals, err := l.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get step records: %w", err)
	}

	out := make([]workflow.StepRecord, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec workflow.StepRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode step record %s: %w", steps[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}
