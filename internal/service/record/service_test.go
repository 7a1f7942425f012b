package record

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/internal/testutil"
	apperrors "github.com/jwalitptl/livsafe-api/pkg/errors"
)

var doctor = &model.Identity{ID: 5, Type: model.UserTypeDoctor}

func seed(t *testing.T, tenants *tenant.Provisioner, n int) {
	t.Helper()

	store, _, err := tenants.EnsureDoctorStore(context.Background(), doctor.ID)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := store.SaveGrading(context.Background(),
			&model.Patient{Name: fmt.Sprintf("Patient %d", i), Age: 30 + i, Gender: "Male"},
			&model.Record{
				RecordID:     fmt.Sprintf("LIV-2024%03d", i+1),
				Grade:        model.GradeF1,
				Confidence:   90,
				ImagePath:    "x.png",
				AnalysisText: sql.NullString{String: "line one\nline two", Valid: true},
				CreatedAt:    base.Add(time.Duration(i) * time.Hour),
			})
		require.NoError(t, err)
	}
}

func TestListAnonymous(t *testing.T) {
	svc := NewService(testutil.NewProvisioner(t), true)

	records, total, err := svc.List(context.Background(), nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, "LIV-2023042", records[0].ID)
	assert.Equal(t, 89, records[0].Confidence)

	svc = NewService(testutil.NewProvisioner(t), false)
	_, _, err = svc.List(context.Background(), nil, 1, 20)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
}

func TestListPaginates(t *testing.T) {
	tenants := testutil.NewProvisioner(t)
	svc := NewService(tenants, true)
	seed(t, tenants, 5)

	records, total, err := svc.List(context.Background(), doctor, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, records, 2)
	// newest first: 005, 004 | 003, 002 | 001
	assert.Equal(t, "LIV-2024003", records[0].ID)
	assert.Equal(t, "LIV-2024002", records[1].ID)
	assert.Equal(t, "June 1, 2024", records[0].Date)

	_, _, err = svc.List(context.Background(), &model.Identity{ID: 1, Type: model.UserTypeOrganization}, 1, 10)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
}

func TestPage(t *testing.T) {
	page, size := Page(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, size)

	_, size = Page(3, 1000)
	assert.Equal(t, MaxPageSize, size)
}

func TestGet(t *testing.T) {
	tenants := testutil.NewProvisioner(t)
	svc := NewService(tenants, true)
	seed(t, tenants, 2)

	detail, err := svc.Get(context.Background(), doctor, "LIV-2024002")
	require.NoError(t, err)
	assert.Equal(t, "Patient 1", detail.PatientInfo.Name)
	assert.Equal(t, 31, detail.PatientInfo.Age)
	assert.Equal(t, model.GradeF1, detail.Fibrosis.Grade)
	assert.Equal(t, []string{"line one", "line two"}, detail.Analysis)

	_, err = svc.Get(context.Background(), doctor, "LIV-1999999")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))

	_, err = svc.Get(context.Background(), nil, "LIV-2024002")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnauthorized))
}

func TestExport(t *testing.T) {
	tenants := testutil.NewProvisioner(t)
	svc := NewService(tenants, true)
	seed(t, tenants, 3)

	data, err := svc.Export(context.Background(), doctor)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "LIV-2024003", rows[1][0])
	assert.Equal(t, "Patient 2", rows[1][1])
	assert.Equal(t, "F1", rows[1][5])
}
