package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository/sqlstore"
)

var (
	ErrDuplicateRecordID = errors.New("record id already exists")
	ErrRecordNotFound    = errors.New("record not found")
)

// DoctorStore holds one doctor's patients and grading records.
type DoctorStore struct {
	*Store
}

const recordColumns = `
	r.id, r.patient_id, r.record_id, r.grade, r.confidence, r.image_path,
	r.analysis_text, r.created_at,
	p.name AS patient_name, p.age AS patient_age, p.gender AS patient_gender`

// SaveGrading inserts the patient and its record in one transaction. A taken
// record id returns ErrDuplicateRecordID and writes nothing.
func (s *DoctorStore) SaveGrading(ctx context.Context, patient *model.Patient, record *model.Record) error {
	now := time.Now().UTC()
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = now
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO patients (name, age, gender, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		patient.Name, patient.Age, patient.Gender, patient.CreatedAt,
	).Scan(&patient.ID)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}

	record.PatientID = patient.ID
	if err := insertRecord(ctx, tx, record); err != nil {
		return err
	}

	return tx.Commit()
}

func insertRecord(ctx context.Context, tx *sqlx.Tx, record *model.Record) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO records (
			patient_id, record_id, grade, confidence, image_path, analysis_text, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		record.PatientID,
		record.RecordID,
		record.Grade,
		record.Confidence,
		record.ImagePath,
		record.AnalysisText,
		record.CreatedAt,
	).Scan(&record.ID)
	if err != nil {
		if sqlstore.IsUniqueViolation(err) {
			return ErrDuplicateRecordID
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *DoctorStore) RecordExists(ctx context.Context, recordID string) (bool, error) {
	var n int
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM records WHERE record_id = ?`, recordID); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *DoctorStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM records`); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// CountRecordsBetween counts records created in [from, to).
func (s *DoctorStore) CountRecordsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.DB.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM records WHERE created_at >= ? AND created_at < ?`,
		from.UTC(), to.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// AverageConfidenceBetween averages the confidence of records created in
// [from, to). It returns 0 when there are none.
func (s *DoctorStore) AverageConfidenceBetween(ctx context.Context, from, to time.Time) (float64, error) {
	var avg float64
	err := s.DB.GetContext(ctx, &avg,
		`SELECT COALESCE(AVG(confidence), 0) FROM records WHERE created_at >= ? AND created_at < ?`,
		from.UTC(), to.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to average confidence: %w", err)
	}
	return avg, nil
}

func (s *DoctorStore) GradeCounts(ctx context.Context) (map[model.Grade]int, error) {
	rows, err := s.DB.QueryxContext(ctx, `SELECT grade, COUNT(*) FROM records GROUP BY grade`)
	if err != nil {
		return nil, fmt.Errorf("failed to count grades: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Grade]int, len(model.Grades))
	for rows.Next() {
		var (
			grade model.Grade
			n     int
		)
		if err := rows.Scan(&grade, &n); err != nil {
			return nil, err
		}
		counts[grade] = n
	}
	return counts, rows.Err()
}

// ListRecords returns records newest first.
func (s *DoctorStore) ListRecords(ctx context.Context, limit, offset int) ([]*model.RecordWithPatient, error) {
	query := `SELECT ` + recordColumns + `
		FROM records r
		JOIN patients p ON p.id = r.patient_id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ? OFFSET ?`

	var records []*model.RecordWithPatient
	if err := s.DB.SelectContext(ctx, &records, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

func (s *DoctorStore) GetRecord(ctx context.Context, recordID string) (*model.RecordWithPatient, error) {
	query := `SELECT ` + recordColumns + `
		FROM records r
		JOIN patients p ON p.id = r.patient_id
		WHERE r.record_id = ?`

	var record model.RecordWithPatient
	if err := s.DB.GetContext(ctx, &record, query, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &record, nil
}
