package grading

import (
	"context"
	"database/sql"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository"
	"github.com/jwalitptl/livsafe-api/internal/service/account"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/internal/testutil"
	apperrors "github.com/jwalitptl/livsafe-api/pkg/errors"
)

type recordingInvalidator struct {
	doctors []int64
	orgs    []int64
}

func (r *recordingInvalidator) InvalidateDoctor(id int64)       { r.doctors = append(r.doctors, id) }
func (r *recordingInvalidator) InvalidateOrganization(id int64) { r.orgs = append(r.orgs, id) }

type failingClassifier struct{}

func (failingClassifier) Name() string { return "broken" }

func (failingClassifier) Classify(context.Context, Features) (Prediction, error) {
	return Prediction{}, os.ErrDeadlineExceeded
}

type gradingFixture struct {
	svc        *Service
	store      repository.Store
	tenants    *tenant.Provisioner
	accounts   *account.Service
	dashboards *recordingInvalidator
	uploads    string
}

func newGradingFixture(t *testing.T, seed int64) *gradingFixture {
	t.Helper()

	store := testutil.NewSharedStore(t)
	tenants := testutil.NewProvisioner(t)
	dashboards := &recordingInvalidator{}
	uploads := filepath.Join(t.TempDir(), "uploads")

	svc := NewService(store, tenants, NewSimulatedClassifier(seed), Config{UploadDir: uploads, Seed: seed}, nil, dashboards, nil)
	svc.now = func() time.Time { return time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC) }

	return &gradingFixture{
		svc:        svc,
		store:      store,
		tenants:    tenants,
		accounts:   account.NewService(store, tenants, testutil.NewHasher(), nil, nil, nil, nil),
		dashboards: dashboards,
		uploads:    uploads,
	}
}

func (f *gradingFixture) signupDoctor(t *testing.T, email string) *model.Identity {
	t.Helper()

	id, err := f.accounts.SignupDoctor(context.Background(), &model.SignupDoctorRequest{
		Email: email, Password: "p", FirstName: "A", LastName: "B", Specialization: "Radiology",
	})
	require.NoError(t, err)
	return &model.Identity{ID: id, Email: email, Type: model.UserTypeDoctor}
}

func validRequest(t *testing.T) *Request {
	return &Request{
		Image:         encodePNG(t, 16, 16, func(x, y int) uint8 { return uint8(x*8 + y) }),
		Filename:      "scan.png",
		PatientName:   "Jane Roe",
		PatientAge:    "54",
		PatientGender: "Female",
	}
}

func TestGradeAnonymous(t *testing.T) {
	f := newGradingFixture(t, 3)

	res, err := f.svc.Grade(context.Background(), validRequest(t), nil)
	require.NoError(t, err)

	assert.True(t, res.Fibrosis.Grade.Valid())
	lo, hi := ConfidenceRange(res.Fibrosis.Grade)
	assert.GreaterOrEqual(t, res.Fibrosis.Confidence, lo)
	assert.LessOrEqual(t, res.Fibrosis.Confidence, hi)

	assert.Regexp(t, `^LIV-2024\d{3}$`, res.RecordID)
	assert.Equal(t, res.RecordID, res.PatientInfo.ID)
	assert.Equal(t, "March 5, 2024", res.PatientInfo.Date)
	assert.Equal(t, 54, res.PatientInfo.Age)
	assert.Equal(t, "simulated", res.Model)
	assert.Equal(t, Narrative(res.Fibrosis.Grade), res.Analysis)
	assert.False(t, res.Persisted)

	entries, err := os.ReadDir(f.uploads)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_scan.png"))

	assert.Empty(t, f.dashboards.doctors)
}

func TestGradeUndecodableImageStillGrades(t *testing.T) {
	f := newGradingFixture(t, 3)
	req := validRequest(t)
	req.Image = []byte("not an image")

	res, err := f.svc.Grade(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, res.Fibrosis.Grade.Valid())
}

func TestGradeOversizedImageStillGrades(t *testing.T) {
	f := newGradingFixture(t, 3)
	req := validRequest(t)
	req.Image = pngHeader(50_000, 50_000)

	res, err := f.svc.Grade(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, res.Fibrosis.Grade.Valid())
}

func TestGradeValidation(t *testing.T) {
	f := newGradingFixture(t, 3)

	tests := []struct {
		name    string
		mutate  func(r *Request)
		message string
	}{
		{"no image", func(r *Request) { r.Image = nil }, "no image provided"},
		{"no filename", func(r *Request) { r.Filename = "" }, "no image selected"},
		{"no name", func(r *Request) { r.PatientName = " " }, "missing patient information"},
		{"no gender", func(r *Request) { r.PatientGender = "" }, "missing patient information"},
		{"age not numeric", func(r *Request) { r.PatientAge = "forty" }, "age must be a number"},
		{"age negative", func(r *Request) { r.PatientAge = "-1" }, "age must be between 0 and 150"},
		{"age too large", func(r *Request) { r.PatientAge = "151" }, "age must be between 0 and 150"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(t)
			tt.mutate(req)

			_, err := f.svc.Grade(context.Background(), req, nil)
			require.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest), err)
			assert.Equal(t, tt.message, err.(*apperrors.AppError).Message)
		})
	}

	_, err := os.Stat(f.uploads)
	assert.True(t, os.IsNotExist(err), "rejected requests must not store uploads")
}

func TestGradeClassifierFailureIsGeneric(t *testing.T) {
	f := newGradingFixture(t, 3)
	f.svc.classifier = failingClassifier{}

	_, err := f.svc.Grade(context.Background(), validRequest(t), nil)
	require.True(t, apperrors.HasCode(err, apperrors.ErrProcessing))
	appErr := err.(*apperrors.AppError)
	assert.Equal(t, "error processing image", appErr.Message)
	assert.Equal(t, 500, appErr.StatusCode())
}

func TestGradePersistsForDoctor(t *testing.T) {
	ctx := context.Background()
	f := newGradingFixture(t, 3)
	doctor := f.signupDoctor(t, "doc@x.com")

	res, err := f.svc.Grade(ctx, validRequest(t), doctor)
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, []int64{doctor.ID}, f.dashboards.doctors)

	store, err := f.tenants.OpenDoctorStore(ctx, doctor.ID)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.GetRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, res.Fibrosis.Grade, rec.Grade)
	assert.Equal(t, res.Fibrosis.Confidence, rec.Confidence)
	assert.Equal(t, "Jane Roe", rec.PatientName)
	assert.Equal(t, res.Analysis, SplitAnalysis(rec.AnalysisText.String))
	assert.FileExists(t, rec.ImagePath)
}

func TestGradeRetriesRecordIDCollision(t *testing.T) {
	ctx := context.Background()
	const seed = 11
	f := newGradingFixture(t, seed)
	doctor := f.signupDoctor(t, "doc@x.com")

	// the first id the service will draw
	taken := FormatRecordID(2024, rand.New(rand.NewSource(seed)).Intn(999)+1)

	store, err := f.tenants.OpenDoctorStore(ctx, doctor.ID)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveGrading(ctx,
		&model.Patient{Name: "Old", Age: 1, Gender: "Male"},
		&model.Record{RecordID: taken, Grade: model.GradeF0, Confidence: 90, AnalysisText: sql.NullString{}},
	))

	res, err := f.svc.Grade(ctx, validRequest(t), doctor)
	require.NoError(t, err)
	assert.NotEqual(t, taken, res.RecordID)
	assert.Equal(t, res.RecordID, res.PatientInfo.ID)

	n, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGradeUpdatesOrganizationStats(t *testing.T) {
	ctx := context.Background()
	f := newGradingFixture(t, 3)
	doctor := f.signupDoctor(t, "doc@x.com")

	orgID, err := f.accounts.SignupOrganization(ctx, &model.SignupOrganizationRequest{
		Name: "General", Type: "hospital", Email: "org@x.com", Password: "secret",
	})
	require.NoError(t, err)
	org, err := f.store.Organizations().Get(ctx, orgID)
	require.NoError(t, err)
	_, err = f.accounts.AffiliateDoctor(ctx, org.UserID, "doc@x.com")
	require.NoError(t, err)

	res, err := f.svc.Grade(ctx, validRequest(t), doctor)
	require.NoError(t, err)
	assert.Equal(t, []int64{orgID}, f.dashboards.orgs)

	orgStore, err := f.tenants.OpenOrganizationStore(ctx, orgID)
	require.NoError(t, err)
	defer orgStore.Close()

	doctors, err := orgStore.ListDoctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Equal(t, 1, doctors[0].TotalRecords)
	assert.Equal(t, 1, doctors[0].MonthlyRecords)
	assert.Equal(t, 1, doctors[0].GradeCount(res.Fibrosis.Grade))
}

func TestGradeOrganizationCallerIsNotPersisted(t *testing.T) {
	f := newGradingFixture(t, 3)
	caller := &model.Identity{ID: 1, Type: model.UserTypeOrganization}

	res, err := f.svc.Grade(context.Background(), validRequest(t), caller)
	require.NoError(t, err)
	assert.False(t, res.Persisted)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"scan.png":              "scan.png",
		"../../etc/passwd":      "passwd",
		`C:\Users\x\liver.jpg`:  "liver.jpg",
		"my scan (1).png":       "my_scan_1_.png",
		".hidden":               "hidden",
		"":                      "upload",
		"..":                    "upload",
		"résumé.png":            "r_sum_.png",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}
