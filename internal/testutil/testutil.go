// Package testutil builds throwaway stores and issues requests against an
// in-process router for package tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jwalitptl/livsafe-api/internal/config"
	"github.com/jwalitptl/livsafe-api/internal/repository/sqlstore"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/security"
)

// NewSharedStore opens a migrated SQLite shared store in a temp dir.
func NewSharedStore(t testing.TB) *sqlstore.Store {
	t.Helper()

	db, err := sqlstore.NewDB(config.DatabaseConfig{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "livsafe.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = sqlstore.Migrate(context.Background(), db)
	require.NoError(t, err)

	return sqlstore.New(db)
}

// NewProvisioner returns a provisioner rooted in a temp dir.
func NewProvisioner(t testing.TB) *tenant.Provisioner {
	t.Helper()

	p, err := tenant.NewProvisioner(filepath.Join(t.TempDir(), "tenants"), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return p
}

// NewHasher is a bcrypt hasher at the minimum cost.
func NewHasher() security.PasswordHasher {
	return security.NewBcryptHasher(4)
}

type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Token   string          `json:"token"`
}

func (r Response) IsSuccess() bool {
	return r.Status == "success"
}

// DecodeData unmarshals the data field into v.
func (r Response) DecodeData(t testing.TB, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

// MakeRequest sends a JSON request to h and decodes the envelope.
func MakeRequest(t testing.TB, h http.Handler, method, path string, body interface{}, token string) (int, Response) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	return Do(t, h, req, token)
}

// Do sends req to h with an optional bearer token and decodes the envelope.
func Do(t testing.TB, h http.Handler, req *http.Request, token string) (int, Response) {
	t.Helper()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var response Response
	if rec.Body.Len() > 0 && json.Valid(rec.Body.Bytes()) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	}
	return rec.Code, response
}
