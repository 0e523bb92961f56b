package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/id"
)

// PushDLQ adds an entry and indexes it by failure time.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.dlq(eID), dlqToMap(entry))
	pipe.ZAdd(ctx, s.keys.dlqIndex(), goredis.Z{Score: float64(entry.FailedAt.UnixMilli()), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("gmpreport/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries ordered by failure time.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, s.keys.dlqIndex(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, err := s.client.HGetAll(ctx, s.keys.dlq(eID)).Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		e, err := mapToDLQ(vals)
		if err != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}
	return page(entries, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, s.keys.dlq(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, gmpreport.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := s.keys.dlq(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("gmpreport/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return gmpreport.ErrDLQNotFound
	}
	if err := s.client.HSet(ctx, key, "replayed_at", formatTime(time.Now())).Err(); err != nil {
		return fmt.Errorf("gmpreport/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	upTo := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.keys.dlqIndex(), &goredis.ZRangeBy{Min: "-inf", Max: upTo}).Result()
	if err != nil {
		return 0, fmt.Errorf("gmpreport/redis: purge dlq range: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.keys.dlq(eID))
		pipe.ZRem(ctx, s.keys.dlqIndex(), eID)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("gmpreport/redis: purge dlq del: %w", err)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.keys.dlqIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("gmpreport/redis: count dlq: %w", err)
	}
	return n, nil
}

func dlqToMap(e *dlq.Entry) map[string]any {
	m := map[string]any{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"chain_id":     e.ChainID.String(),
		"job_name":     e.JobName,
		"queue":        e.Queue,
		"payload":      string(e.Payload),
		"error":        e.Error,
		"reason":       string(e.Reason),
		"attempt":      strconv.Itoa(e.Attempt),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"account":      e.Account,
		"failed_at":    formatTime(e.FailedAt),
		"created_at":   formatTime(e.CreatedAt),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = formatTime(*e.ReplayedAt)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("gmpreport/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])            //nolint:errcheck // trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])          //nolint:errcheck // trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"]) //nolint:errcheck // trusted Redis data

	e := &dlq.Entry{
		ID:          eID,
		JobID:       jobID,
		JobName:     m["job_name"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Error:       m["error"],
		Reason:      dlq.Reason(m["reason"]),
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Account:     m["account"],
		FailedAt:    parseTime(m["failed_at"]),
		CreatedAt:   parseTime(m["created_at"]),
		ReplayedAt:  parseOptionalTime(m["replayed_at"]),
	}
	if v := m["chain_id"]; v != "" {
		e.ChainID, _ = id.ParseJobID(v) //nolint:errcheck // trusted Redis data
	}
	return e, nil
}
