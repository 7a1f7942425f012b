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

type doctorRepository struct {
	q sqlx.ExtContext
}

func (r *doctorRepository) Create(ctx context.Context, doctor *model.Doctor) error {
	query := `
		INSERT INTO doctors (user_id, organization_id, created_at)
		VALUES (?, ?, ?)
		RETURNING id`

	doctor.CreatedAt = time.Now().UTC()
	err := r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		doctor.UserID,
		doctor.OrganizationID,
		doctor.CreatedAt,
	).Scan(&doctor.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("doctor for user %d: %w", doctor.UserID, repository.ErrDuplicate)
		}
		return fmt.Errorf("failed to create doctor: %w", err)
	}
	return nil
}

func (r *doctorRepository) GetByUserID(ctx context.Context, userID int64) (*model.Doctor, error) {
	var doctor model.Doctor
	err := sqlx.GetContext(ctx, r.q, &doctor, r.q.Rebind(`SELECT * FROM doctors WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &doctor, nil
}

func (r *doctorRepository) GetProfileByEmail(ctx context.Context, email string) (*model.DoctorProfile, error) {
	query := `
		SELECT d.id, d.user_id, d.organization_id, d.created_at,
			u.email,
			COALESCE(u.first_name, '') AS first_name,
			COALESCE(u.last_name, '') AS last_name,
			u.specialization
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE u.email = ? AND u.user_type = ?`

	var profile model.DoctorProfile
	err := sqlx.GetContext(ctx, r.q, &profile, r.q.Rebind(query), model.NormalizeEmail(email), model.UserTypeDoctor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get doctor profile: %w", err)
	}
	return &profile, nil
}

func (r *doctorRepository) SetOrganization(ctx context.Context, doctorID, organizationID int64) error {
	res, err := r.q.ExecContext(ctx,
		r.q.Rebind(`UPDATE doctors SET organization_id = ? WHERE id = ?`), organizationID, doctorID)
	if err != nil {
		return fmt.Errorf("failed to set doctor organization: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *doctorRepository) List(ctx context.Context) ([]*model.Doctor, error) {
	var doctors []*model.Doctor
	if err := sqlx.SelectContext(ctx, r.q, &doctors, `SELECT * FROM doctors ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}
