package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fivestones/gmpreport"
	"github.com/fivestones/gmpreport/dlq"
	"github.com/fivestones/gmpreport/id"
)

const dlqColumns = `
	id, job_id, chain_id, job_name, queue, payload, error, reason,
	attempt, max_attempts, account, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gmpreport_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID.String(), entry.JobID.String(), entry.ChainID.String(), entry.JobName,
		entry.Queue, entry.Payload, entry.Error, string(entry.Reason),
		entry.Attempt, entry.MaxAttempts, entry.Account,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("gmpreport/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries ordered by failure time.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM gmpreport_dlq WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY failed_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("gmpreport/postgres: scan dlq row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM gmpreport_dlq WHERE id = $1`, entryID.String())
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, gmpreport.ErrDLQNotFound
		}
		return nil, fmt.Errorf("gmpreport/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE gmpreport_dlq SET replayed_at = NOW() WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("gmpreport/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gmpreport.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gmpreport_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("gmpreport/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gmpreport_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("gmpreport/postgres: count dlq: %w", err)
	}
	return count, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		idStr     string
		jobStr    string
		chainStr  string
		reasonStr string
	)
	err := row.Scan(
		&idStr, &jobStr, &chainStr, &e.JobName, &e.Queue, &e.Payload, &e.Error, &reasonStr,
		&e.Attempt, &e.MaxAttempts, &e.Account, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Reason = dlq.Reason(reasonStr)

	e.ID, err = id.ParseDLQID(idStr)
	if err != nil {
		return nil, fmt.Errorf("gmpreport/postgres: parse dlq id %q: %w", idStr, err)
	}
	if jobID, err := id.ParseJobID(jobStr); err == nil {
		e.JobID = jobID
	}
	if chainStr != "" {
		if chain, err := id.ParseJobID(chainStr); err == nil {
			e.ChainID = chain
		}
	}
	return &e, nil
}
