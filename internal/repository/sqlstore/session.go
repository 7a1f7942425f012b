package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository"
)

type sessionRepository struct {
	q sqlx.ExtContext
}

func (r *sessionRepository) Create(ctx context.Context, session *model.Session) error {
	query := `
		INSERT INTO sessions (session_id, user_id, data, expiry)
		VALUES (?, ?, ?, ?)
		RETURNING id`

	session.Expiry = session.Expiry.UTC()
	err := r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		session.SessionID,
		session.UserID,
		session.Data,
		session.Expiry,
	).Scan(&session.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", session.SessionID, repository.ErrDuplicate)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetActive(ctx context.Context, sessionID string, now time.Time) (*model.Session, error) {
	var session model.Session
	err := sqlx.GetContext(ctx, r.q, &session,
		r.q.Rebind(`SELECT * FROM sessions WHERE session_id = ? AND expiry > ?`),
		sessionID, now.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM sessions WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM sessions WHERE expiry <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
