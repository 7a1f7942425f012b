package model

import (
	"database/sql"
	"fmt"
	"time"
)

// Grade is a Metavir liver fibrosis stage.
type Grade string

const (
	GradeF0 Grade = "F0"
	GradeF1 Grade = "F1"
	GradeF2 Grade = "F2"
	GradeF3 Grade = "F3"
	GradeF4 Grade = "F4"
)

// Grades lists all stages in order.
var Grades = []Grade{GradeF0, GradeF1, GradeF2, GradeF3, GradeF4}

// Index returns the numeric stage, or -1 for an unknown grade.
func (g Grade) Index() int {
	for i, v := range Grades {
		if v == g {
			return i
		}
	}
	return -1
}

func (g Grade) Valid() bool { return g.Index() >= 0 }

// ParseGrade accepts F0..F4.
func ParseGrade(s string) (Grade, error) {
	g := Grade(s)
	if !g.Valid() {
		return "", fmt.Errorf("unknown grade %q", s)
	}
	return g, nil
}

// Chart colors used by the dashboards, per grade.
var GradeColors = map[Grade]string{
	GradeF0: "#3b82f6",
	GradeF1: "#22c55e",
	GradeF2: "#eab308",
	GradeF3: "#f97316",
	GradeF4: "#ef4444",
}

// Patient lives in a doctor's tenant store.
type Patient struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Age       int       `json:"age" db:"age"`
	Gender    string    `json:"gender" db:"gender"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Record is one grading result in a doctor's tenant store.
type Record struct {
	ID           int64          `db:"id"`
	PatientID    int64          `db:"patient_id"`
	RecordID     string         `db:"record_id"`
	Grade        Grade          `db:"grade"`
	Confidence   int            `db:"confidence"`
	ImagePath    string         `db:"image_path"`
	AnalysisText sql.NullString `db:"analysis_text"`
	CreatedAt    time.Time      `db:"created_at"`
}

// RecordWithPatient is a record joined with its patient.
type RecordWithPatient struct {
	Record
	PatientName   string `db:"patient_name"`
	PatientAge    int    `db:"patient_age"`
	PatientGender string `db:"patient_gender"`
}

// DateLayout renders dates the way the client displays them.
const DateLayout = "January 2, 2006"

// RecordSummary is a row of the records table.
type RecordSummary struct {
	ID          string `json:"id"`
	PatientName string `json:"patientName"`
	Date        string `json:"date"`
	Grade       Grade  `json:"grade"`
	Confidence  int    `json:"confidence,omitempty"`
}

// RecordDetail is a single record with patient and analysis.
type RecordDetail struct {
	RecordID    string      `json:"recordId"`
	PatientInfo PatientInfo `json:"patientInfo"`
	Fibrosis    Fibrosis    `json:"fibrosis"`
	Analysis    []string    `json:"analysis"`
	ImagePath   string      `json:"-"`
}

type PatientInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Date   string `json:"date"`
}

type Fibrosis struct {
	Grade      Grade `json:"grade"`
	Confidence int   `json:"confidence"`
}

// GradeResult is the response of POST /api/grade.
type GradeResult struct {
	RecordID    string      `json:"recordId"`
	PatientInfo PatientInfo `json:"patientInfo"`
	Fibrosis    Fibrosis    `json:"fibrosis"`
	Analysis    []string    `json:"analysis"`
	// Model is always "simulated" unless a remote classifier is configured.
	Model     string `json:"model"`
	Persisted bool   `json:"persisted"`
}

// OrgDoctor is a doctor row in an organization's tenant store.
type OrgDoctor struct {
	ID             int64          `db:"id"`
	UserID         int64          `db:"user_id"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	Email          string         `db:"email"`
	Specialization sql.NullString `db:"specialization"`
	CreatedAt      time.Time      `db:"created_at"`
}

// DoctorStats is the per-doctor aggregate in an organization's tenant store.
type DoctorStats struct {
	ID             int64     `db:"id"`
	DoctorID       int64     `db:"doctor_id"`
	TotalRecords   int       `db:"total_records"`
	MonthlyRecords int       `db:"monthly_records"`
	GradeF0        int       `db:"grade_f0"`
	GradeF1        int       `db:"grade_f1"`
	GradeF2        int       `db:"grade_f2"`
	GradeF3        int       `db:"grade_f3"`
	GradeF4        int       `db:"grade_f4"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Count returns the per-grade counter.
func (s *DoctorStats) Count(g Grade) int {
	switch g {
	case GradeF0:
		return s.GradeF0
	case GradeF1:
		return s.GradeF1
	case GradeF2:
		return s.GradeF2
	case GradeF3:
		return s.GradeF3
	case GradeF4:
		return s.GradeF4
	}
	return 0
}
