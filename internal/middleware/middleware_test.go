package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthenticator map[string]*model.Identity

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (*model.Identity, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return nil, errors.Unauthorized("invalid token", nil)
}

func newAuthEngine() *gin.Engine {
	m := NewAuthMiddleware(fakeAuthenticator{
		"doc": {ID: 1, Type: model.UserTypeDoctor},
		"org": {ID: 2, Type: model.UserTypeOrganization},
	})

	whoami := func(c *gin.Context) {
		if id := CurrentIdentity(c); id != nil {
			c.String(http.StatusOK, id.Type)
			return
		}
		c.String(http.StatusOK, "anonymous")
	}

	r := gin.New()
	r.GET("/required", m.Authenticate(), whoami)
	r.GET("/optional", m.Optional(), whoami)
	r.GET("/doctor", m.Optional(), RequireUserType(model.UserTypeDoctor), whoami)
	return r
}

func get(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthEngine()

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
		body   string
	}{
		{"required without token", "/required", "", http.StatusUnauthorized, ""},
		{"required with token", "/required", "Bearer doc", http.StatusOK, "doctor"},
		{"required with bad token", "/required", "Bearer nope", http.StatusUnauthorized, ""},
		{"required with malformed header", "/required", "Token doc", http.StatusUnauthorized, ""},
		{"optional anonymous", "/optional", "", http.StatusOK, "anonymous"},
		{"optional with token", "/optional", "bearer org", http.StatusOK, "organization"},
		{"optional with bad token", "/optional", "Bearer nope", http.StatusUnauthorized, ""},
		{"user type match", "/doctor", "Bearer doc", http.StatusOK, "doctor"},
		{"user type mismatch", "/doctor", "Bearer org", http.StatusForbidden, ""},
		{"user type anonymous", "/doctor", "", http.StatusOK, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(r, tt.path, tt.auth)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"status":"error"`)
			}
		})
	}
}

func TestRedactJSON(t *testing.T) {
	out := string(redactJSON([]byte(`{"email":"a@x.com","Password":"hunter2"}`)))
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `"Password":"[redacted]"`)
	assert.Contains(t, out, `"email":"a@x.com"`)

	assert.Equal(t, `"[unparsable]"`, string(redactJSON([]byte(`[1,2`))))
}

func TestLoggerKeepsBodyReadable(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger())
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.ShouldBindJSON(&body))
		c.String(http.StatusOK, body["password"])
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"password":"p"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderXRequestID))
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxUploadSize: 16}))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(body, contentType string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("small", "application/json"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, send("much too large", "application/json"))
	assert.Equal(t, http.StatusNoContent, send("much too large", "multipart/form-data; boundary=x"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, send(strings.Repeat("x", 17), "multipart/form-data; boundary=x"))
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 2}).RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/", "").Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/", func(*gin.Context) { panic("boom") })

	rec := get(r, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestCacheControl(t *testing.T) {
	r := gin.New()
	r.GET("/", CacheControl(30e9), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/", CacheControl(30e9), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, "private, max-age=30", get(r, "/", "").Header().Get("Cache-Control"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCompress(t *testing.T) {
	r := gin.New()
	r.Use(Compress(DefaultCompressConfig()))
	r.GET("/api/records", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"grade": "F2"}) })
	r.GET("/api/health/live", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })

	req := httptest.NewRequest(http.MethodGet, "/api/records", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"grade":"F2"}`, string(body))

	req = httptest.NewRequest(http.MethodGet, "/api/health/live", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.JSONEq(t, `{"status":"UP"}`, rec.Body.String())

	plain := get(r, "/api/records", "")
	assert.Empty(t, plain.Header().Get("Content-Encoding"))
}
