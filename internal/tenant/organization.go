package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/livsafe-api/internal/model"
)

var ErrDoctorNotFound = errors.New("doctor not in organization")

// OrganizationStore holds an organization's doctors and their stats.
type OrganizationStore struct {
	*Store
}

// DoctorWithStats is an organization doctor joined with its stats row.
type DoctorWithStats struct {
	model.OrgDoctor
	TotalRecords   int `db:"total_records"`
	MonthlyRecords int `db:"monthly_records"`
	GradeF0        int `db:"grade_f0"`
	GradeF1        int `db:"grade_f1"`
	GradeF2        int `db:"grade_f2"`
	GradeF3        int `db:"grade_f3"`
	GradeF4        int `db:"grade_f4"`
}

func (d *DoctorWithStats) GradeCount(g model.Grade) int {
	return (&model.DoctorStats{
		GradeF0: d.GradeF0,
		GradeF1: d.GradeF1,
		GradeF2: d.GradeF2,
		GradeF3: d.GradeF3,
		GradeF4: d.GradeF4,
	}).Count(g)
}

// AddDoctor inserts the doctor, or refreshes its profile when the email is
// already present, and makes sure it has a stats row.
func (s *OrganizationStore) AddDoctor(ctx context.Context, doctor *model.OrgDoctor) error {
	now := time.Now().UTC()
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = now
	}

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO doctors (user_id, first_name, last_name, email, specialization, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			user_id = excluded.user_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			specialization = excluded.specialization
		RETURNING id`,
		doctor.UserID,
		doctor.FirstName,
		doctor.LastName,
		doctor.Email,
		doctor.Specialization,
		doctor.CreatedAt,
	).Scan(&doctor.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert doctor: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stats (doctor_id, updated_at) VALUES (?, ?)
		ON CONFLICT (doctor_id) DO NOTHING`,
		doctor.ID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create stats: %w", err)
	}

	return tx.Commit()
}

func (s *OrganizationStore) DoctorByUserID(ctx context.Context, userID int64) (*model.OrgDoctor, error) {
	var doctor model.OrgDoctor
	err := s.DB.GetContext(ctx, &doctor, `SELECT * FROM doctors WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &doctor, nil
}

// RecordGraded counts one graded record for the doctor with the given user
// id. The monthly counter restarts when at falls in a new month.
func (s *OrganizationStore) RecordGraded(ctx context.Context, userID int64, grade model.Grade, at time.Time) error {
	idx := grade.Index()
	if idx < 0 {
		return fmt.Errorf("unknown grade %q", grade)
	}
	at = at.UTC()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stats model.DoctorStats
	err = tx.GetContext(ctx, &stats, `
		SELECT s.* FROM stats s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE d.user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("failed to load stats: %w", err)
	}

	monthly := 1
	last := stats.UpdatedAt.UTC()
	if last.Year() == at.Year() && last.Month() == at.Month() {
		monthly = stats.MonthlyRecords + 1
	}

	// column name comes from a validated grade index
	query := fmt.Sprintf(`
		UPDATE stats SET
			total_records = total_records + 1,
			monthly_records = ?,
			grade_f%d = grade_f%d + 1,
			updated_at = ?
		WHERE id = ?`, idx, idx)
	if _, err := tx.ExecContext(ctx, query, monthly, at, stats.ID); err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}

	return tx.Commit()
}

// ListDoctors returns every doctor with its counters, oldest first.
func (s *OrganizationStore) ListDoctors(ctx context.Context) ([]*DoctorWithStats, error) {
	var doctors []*DoctorWithStats
	err := s.DB.SelectContext(ctx, &doctors, `
		SELECT d.*,
			COALESCE(s.total_records, 0) AS total_records,
			COALESCE(s.monthly_records, 0) AS monthly_records,
			COALESCE(s.grade_f0, 0) AS grade_f0,
			COALESCE(s.grade_f1, 0) AS grade_f1,
			COALESCE(s.grade_f2, 0) AS grade_f2,
			COALESCE(s.grade_f3, 0) AS grade_f3,
			COALESCE(s.grade_f4, 0) AS grade_f4
		FROM doctors d
		LEFT JOIN stats s ON s.doctor_id = d.id
		ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}
