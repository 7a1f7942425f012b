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

type organizationRepository struct {
	q sqlx.ExtContext
}

func (r *organizationRepository) Create(ctx context.Context, org *model.Organization) error {
	query := `
		INSERT INTO organizations (name, type, user_id, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`

	org.CreatedAt = time.Now().UTC()
	err := r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		org.Name,
		org.Type,
		org.UserID,
		org.CreatedAt,
	).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (r *organizationRepository) Get(ctx context.Context, id int64) (*model.Organization, error) {
	return r.getBy(ctx, "id", id)
}

func (r *organizationRepository) GetByUserID(ctx context.Context, userID int64) (*model.Organization, error) {
	return r.getBy(ctx, "user_id", userID)
}

func (r *organizationRepository) getBy(ctx context.Context, column string, value int64) (*model.Organization, error) {
	var org model.Organization
	query := r.q.Rebind(fmt.Sprintf(`SELECT * FROM organizations WHERE %s = ?`, column))
	if err := sqlx.GetContext(ctx, r.q, &org, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

func (r *organizationRepository) List(ctx context.Context) ([]*model.Organization, error) {
	var orgs []*model.Organization
	if err := sqlx.SelectContext(ctx, r.q, &orgs, `SELECT * FROM organizations ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}
