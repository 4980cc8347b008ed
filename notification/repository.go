package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound    = errors.New("notification: not found")
	ErrAlreadyRead = errors.New("notification: already read")
)

// Repository persists notifications for the delivery subsystem to pick up.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes one notification row from an intent.
func (r *Repository) Insert(ctx context.Context, intent Intent) (Record, error) {
	const q = `
		INSERT INTO notifications (user_id, type, title, message, contract_id, action_url)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, NULLIF($6, ''))
		RETURNING id, user_id, type, title, message, contract_id, action_url, read, read_at, created_at
	`
	return scanRecord(r.pool.QueryRow(ctx, q,
		intent.UserID,
		intent.Type,
		intent.Title,
		intent.Message,
		intent.ContractID,
		intent.ActionURL,
	))
}

// ListForUser returns notifications for a user, unread first.
func (r *Repository) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, user_id, type, title, message, contract_id, action_url, read, read_at, created_at
		FROM notifications
		WHERE user_id = $1
	`
	if unreadOnly {
		query += " AND read = false"
	}
	query += " ORDER BY read, created_at DESC LIMIT $2"

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification: iterate: %w", err)
	}
	return out, nil
}

// MarkRead flips one unread notification owned by the user. On zero rows the
// state is re-read to distinguish "missing" from "already read".
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID string) (Record, error) {
	const q = `
		UPDATE notifications
		SET read = true, read_at = now()
		WHERE id = $1 AND user_id = $2 AND read = false
		RETURNING id, user_id, type, title, message, contract_id, action_url, read, read_at, created_at
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, q, notificationID, userID))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("notification: mark read: %w", err)
	}

	var read bool
	if err := r.pool.QueryRow(ctx, `SELECT read FROM notifications WHERE id = $1 AND user_id = $2`, notificationID, userID).Scan(&read); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("notification: mark read fetch: %w", err)
	}
	if read {
		return Record{}, ErrAlreadyRead
	}
	return Record{}, ErrNotFound
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Type,
		&rec.Title,
		&rec.Message,
		&rec.ContractID,
		&rec.ActionURL,
		&rec.Read,
		&rec.ReadAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
