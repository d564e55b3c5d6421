package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"pong-realtime/internal/protocol"
)

// UndeliveredResult is a match result the backend never acknowledged.
type UndeliveredResult struct {
	ID        string
	Result    protocol.GameResult
	LastError string
	Attempts  int
	CreatedAt time.Time
}

func (s *Store) SaveUndelivered(ctx context.Context, result protocol.GameResult, lastErr string) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO undelivered_match_results (id, game_id, status, payload, last_error, attempts, finished_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)`,
		NewID(), result.GameID, string(result.Status), payload, lastErr, timestamptzPtr(result.FinishedAt))
	return err
}

func (s *Store) ListUndelivered(ctx context.Context, limit int) ([]UndeliveredResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, payload, last_error, attempts, created_at
		FROM undelivered_match_results
		WHERE delivered_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]UndeliveredResult, 0)
	for rows.Next() {
		var (
			r       UndeliveredResult
			payload []byte
			created pgtype.Timestamptz
		)
		if err := rows.Scan(&r.ID, &payload, &r.LastError, &r.Attempts, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &r.Result); err != nil {
			return nil, err
		}
		r.CreatedAt = created.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE undelivered_match_results SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAttempt bumps the attempt counter after a failed replay.
func (s *Store) RecordAttempt(ctx context.Context, id, lastErr string) error {
	var attempts int
	err := s.Pool.QueryRow(ctx, `
		UPDATE undelivered_match_results SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
		RETURNING attempts`, id, lastErr).Scan(&attempts)
	return mapNotFound(err)
}

func (s *Store) CountUndelivered(ctx context.Context) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM undelivered_match_results WHERE delivered_at IS NULL`).Scan(&n)
	return n, err
}

func timestamptzPtr(v *time.Time) pgtype.Timestamptz {
	if v == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *v, Valid: true}
}
