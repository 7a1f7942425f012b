package router

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accountHandler "github.com/jwalitptl/livsafe-api/internal/handler/account"
	authHandler "github.com/jwalitptl/livsafe-api/internal/handler/auth"
	dashboardHandler "github.com/jwalitptl/livsafe-api/internal/handler/dashboard"
	gradeHandler "github.com/jwalitptl/livsafe-api/internal/handler/grade"
	"github.com/jwalitptl/livsafe-api/internal/handler/health"
	organizationHandler "github.com/jwalitptl/livsafe-api/internal/handler/organization"
	"github.com/jwalitptl/livsafe-api/internal/handler/prometheus"
	recordHandler "github.com/jwalitptl/livsafe-api/internal/handler/record"
	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/service/account"
	authService "github.com/jwalitptl/livsafe-api/internal/service/auth"
	"github.com/jwalitptl/livsafe-api/internal/service/dashboard"
	"github.com/jwalitptl/livsafe-api/internal/service/grading"
	"github.com/jwalitptl/livsafe-api/internal/service/record"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/internal/testutil"
	"github.com/jwalitptl/livsafe-api/pkg/auth"
	"github.com/jwalitptl/livsafe-api/pkg/metrics"
)

type testServer struct {
	handler http.Handler
	tenants *tenant.Provisioner
}

func newTestServer(t *testing.T, sampleData bool) *testServer {
	t.Helper()

	store := testutil.NewSharedStore(t)
	tenants := testutil.NewProvisioner(t)
	hasher := testutil.NewHasher()
	m := metrics.NewNop()

	jwtSvc, err := auth.NewJWTService("test-secret", time.Hour)
	require.NoError(t, err)

	dashboards := dashboard.NewService(store, tenants, dashboard.Config{TTL: time.Minute, SampleData: sampleData})
	accounts := account.NewService(store, tenants, hasher, nil, nil, dashboards, m)
	authSvc := authService.NewService(store, hasher, jwtSvc, m)
	grader := grading.NewService(store, tenants, grading.NewSimulatedClassifier(7),
		grading.Config{UploadDir: filepath.Join(t.TempDir(), "uploads"), Seed: 7}, nil, dashboards, m)
	records := record.NewService(tenants, sampleData)

	authMW := middleware.NewAuthMiddleware(authSvc)

	r := NewRouter(Config{
		Mode:           gin.TestMode,
		RequestTimeout: 5 * time.Second,
		CORSOrigins:    []string{"http://localhost:3000"},
		SizeLimit: middleware.SizeLimitConfig{
			MaxBodySize:   1 << 20,
			MaxUploadSize: 1 << 20,
		},
	}, prometheus.New("livsafe_test"),
		health.NewHandler(store, nil),
		accountHandler.NewHandler(accounts),
		authHandler.NewHandler(authSvc, authMW),
		organizationHandler.NewHandler(accounts, authMW),
		gradeHandler.NewHandler(grader, authMW),
		dashboardHandler.NewHandler(dashboards, authMW, 30*time.Second),
		recordHandler.NewHandler(records, authMW),
	)
	r.Setup()

	return &testServer{handler: r.Engine(), tenants: tenants}
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()

	code, resp := testutil.MakeRequest(t, s.handler, http.MethodPost, "/api/login",
		map[string]string{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, code, resp.Message)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func gradeRequest(t *testing.T, filename string, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if image != nil {
		part, err := w.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/grade", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func grayPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 16)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var patientFields = map[string]string{
	"patientName":   "Jane Roe",
	"patientAge":    "52",
	"patientGender": "Female",
}

func TestDoctorSignupProvisionsStore(t *testing.T) {
	srv := newTestServer(t, true)
	body := map[string]string{
		"email":          "a@x.com",
		"password":       "p",
		"firstName":      "A",
		"lastName":       "B",
		"specialization": "Radiology",
	}

	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/doctor", body, "")
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "Doctor account created successfully", resp.Message)

	var created model.SignupResponse
	resp.DecodeData(t, &created)
	require.NotZero(t, created.ID)

	store, err := srv.tenants.OpenDoctorStore(context.Background(), created.ID)
	require.NoError(t, err)
	defer store.Close()

	tables, err := store.Tables(context.Background())
	require.NoError(t, err)
	assert.Contains(t, tables, "patients")
	assert.Contains(t, tables, "records")

	for _, table := range []string{"patients", "records"} {
		var n int
		require.NoError(t, store.DB.Get(&n, "SELECT COUNT(*) FROM "+table))
		assert.Zero(t, n, table)
	}

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/doctor", body, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "email already registered", resp.Message)
}

func TestOrganizationSignup(t *testing.T) {
	srv := newTestServer(t, true)

	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/organization", map[string]string{
		"name":     "General Hospital",
		"type":     "hospital",
		"email":    "admin@general.org",
		"password": "secret",
	}, "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Organization account created successfully", resp.Message)

	var created model.SignupResponse
	resp.DecodeData(t, &created)

	exists, err := srv.tenants.Exists(tenant.KindOrganization, created.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/organization",
		map[string]string{"name": "No Email", "type": "clinic"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", resp.Status)
}

func TestLoginAndMe(t *testing.T) {
	srv := newTestServer(t, true)

	code, _ := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/doctor", map[string]string{
		"email": "doc@x.com", "password": "pw", "firstName": "Ada", "lastName": "Lee", "specialization": "Hepatology",
	}, "")
	require.Equal(t, http.StatusCreated, code)

	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "DOC@x.com", "password": "pw"}, "")
	require.Equal(t, http.StatusOK, code)
	var identity model.Identity
	resp.DecodeData(t, &identity)
	assert.Equal(t, "Ada Lee", identity.Name)
	assert.Equal(t, model.UserTypeDoctor, identity.Type)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/login",
		map[string]string{"email": "doc@x.com", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid credentials", resp.Message)

	token := srv.login(t, "doc@x.com", "pw")
	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, code)
	resp.DecodeData(t, &identity)
	assert.Equal(t, "doc@x.com", identity.Email)

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, code)

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAnonymousGrade(t *testing.T) {
	srv := newTestServer(t, true)

	code, resp := testutil.Do(t, srv.handler, gradeRequest(t, "scan.png", grayPNG(t), patientFields), "")
	require.Equal(t, http.StatusOK, code, resp.Message)

	var result model.GradeResult
	resp.DecodeData(t, &result)
	assert.Regexp(t, `^LIV-\d{4}\d{3}$`, result.RecordID)
	assert.Equal(t, "Jane Roe", result.PatientInfo.Name)
	assert.Equal(t, 52, result.PatientInfo.Age)
	assert.True(t, result.Fibrosis.Grade.Valid())
	assert.Len(t, result.Analysis, 7)
	assert.False(t, result.Persisted)
}

func TestGradeValidation(t *testing.T) {
	srv := newTestServer(t, true)

	tests := []struct {
		name    string
		req     *http.Request
		code    int
		message string
	}{
		{
			name:    "no file part",
			req:     gradeRequest(t, "", nil, patientFields),
			code:    http.StatusBadRequest,
			message: "no image provided",
		},
		{
			name:    "empty filename",
			req:     gradeRequest(t, "", []byte("data"), patientFields),
			code:    http.StatusBadRequest,
			message: "no image selected",
		},
		{
			name:    "missing patient fields",
			req:     gradeRequest(t, "scan.png", grayPNG(t), map[string]string{"patientName": "Jane"}),
			code:    http.StatusBadRequest,
			message: "missing patient information",
		},
		{
			name: "age not a number",
			req: gradeRequest(t, "scan.png", grayPNG(t), map[string]string{
				"patientName": "Jane", "patientAge": "old", "patientGender": "Female",
			}),
			code:    http.StatusBadRequest,
			message: "age must be a number",
		},
		{
			name:    "too large",
			req:     gradeRequest(t, "scan.png", make([]byte, 2<<20), patientFields),
			code:    http.StatusRequestEntityTooLarge,
			message: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := testutil.Do(t, srv.handler, tt.req, "")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, "error", resp.Status)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
		})
	}
}

func TestDoctorGradePersistsAndShowsUp(t *testing.T) {
	srv := newTestServer(t, false)

	code, _ := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/doctor", map[string]string{
		"email": "doc@x.com", "password": "pw", "firstName": "Ada", "lastName": "Lee", "specialization": "Hepatology",
	}, "")
	require.Equal(t, http.StatusCreated, code)
	token := srv.login(t, "doc@x.com", "pw")

	code, resp := testutil.Do(t, srv.handler, gradeRequest(t, "scan.png", grayPNG(t), patientFields), token)
	require.Equal(t, http.StatusOK, code, resp.Message)
	var result model.GradeResult
	resp.DecodeData(t, &result)
	assert.True(t, result.Persisted)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/records?page=1&limit=10", nil, token)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Items      []model.RecordSummary `json:"items"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	resp.DecodeData(t, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, result.RecordID, page.Items[0].ID)
	assert.Equal(t, 1, page.Pagination.Total)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/records/"+result.RecordID, nil, token)
	require.Equal(t, http.StatusOK, code)
	var detail model.RecordDetail
	resp.DecodeData(t, &detail)
	assert.Equal(t, result.Analysis, detail.Analysis)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/doctor/dashboard", nil, token)
	require.Equal(t, http.StatusOK, code)
	var dash model.DoctorDashboard
	resp.DecodeData(t, &dash)
	assert.Equal(t, 1, dash.Stats.TotalRecords)

	req := httptest.NewRequest(http.MethodGet, "/api/records/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, rec.Body.Len())

	// anonymous access is refused when sample data is off
	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/records", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUserTypeGuards(t *testing.T) {
	srv := newTestServer(t, true)

	code, _ := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/organization", map[string]string{
		"name": "General", "type": "hospital", "email": "org@x.com", "password": "pw",
	}, "")
	require.Equal(t, http.StatusCreated, code)
	token := srv.login(t, "org@x.com", "pw")

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/doctor/dashboard", nil, token)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/records", nil, token)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/organization/dashboard", nil, token)
	require.Equal(t, http.StatusOK, code)
	var dash model.OrganizationDashboard
	resp.DecodeData(t, &dash)
	assert.Zero(t, dash.Stats.TotalDoctors)

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/records/export", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOrganizationAddsDoctor(t *testing.T) {
	srv := newTestServer(t, true)

	code, _ := testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/doctor", map[string]string{
		"email": "doc@x.com", "password": "pw", "firstName": "Ada", "lastName": "Lee", "specialization": "Hepatology",
	}, "")
	require.Equal(t, http.StatusCreated, code)
	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/signup/organization", map[string]string{
		"name": "General", "type": "hospital", "email": "org@x.com", "password": "pw",
	}, "")
	require.Equal(t, http.StatusCreated, code)

	orgToken := srv.login(t, "org@x.com", "pw")

	// warm the cached dashboard before the roster changes
	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/organization/dashboard", nil, orgToken)
	require.Equal(t, http.StatusOK, code)
	var dash model.OrganizationDashboard
	resp.DecodeData(t, &dash)
	assert.Empty(t, dash.Doctors)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/organization/doctors",
		map[string]string{"email": "doc@x.com"}, orgToken)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var doctor model.DoctorSummary
	resp.DecodeData(t, &doctor)
	assert.Equal(t, "Dr. Ada Lee", doctor.Name)

	code, resp = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/organization/dashboard", nil, orgToken)
	require.Equal(t, http.StatusOK, code)
	dash = model.OrganizationDashboard{}
	resp.DecodeData(t, &dash)
	require.Len(t, dash.Doctors, 1)
	assert.Equal(t, "Dr. Ada Lee", dash.Doctors[0].Name)
	assert.Equal(t, 1, dash.Stats.TotalDoctors)

	docToken := srv.login(t, "doc@x.com", "pw")
	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodPost, "/api/organization/doctors",
		map[string]string{"email": "doc@x.com"}, docToken)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAnonymousSampleData(t *testing.T) {
	srv := newTestServer(t, true)

	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/doctor/dashboard", nil, "")
	require.Equal(t, http.StatusOK, code)
	var dash model.DoctorDashboard
	resp.DecodeData(t, &dash)
	assert.Equal(t, 147, dash.Stats.TotalRecords)

	code, _ = testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/organization/dashboard", nil, "bogus")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, true)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, apiVersion, rec.Header().Get("X-API-Version"))

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "livsafe_test_http_requests_total")

	code, resp := testutil.MakeRequest(t, srv.handler, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "route not found", resp.Message)
}
