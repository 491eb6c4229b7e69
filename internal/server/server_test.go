package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptrks/coedit/internal/hub"
	"github.com/ptrks/coedit/internal/model"
	"github.com/ptrks/coedit/internal/store"
)

type testEnv struct {
	ts    *httptest.Server
	store *store.MemoryStore
	hub   *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	h := hub.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(st, h, "test-secret", "http://localhost", logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: st, hub: h}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// signup registers a fresh account and returns (token, userID).
func (e *testEnv) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	resp := e.request(t, "POST", "/api/auth/register", "", Credentials{Email: email, Password: "hunter22"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out authResponse
	decode(t, resp, &out)
	return out.Token, out.User.ID
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	token, _ := env.signup(t, "alice@example.com")
	require.NotEmpty(t, token)

	// Duplicate email.
	resp := env.request(t, "POST", "/api/auth/register", "", Credentials{Email: "alice@example.com", Password: "other"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Wrong password.
	resp = env.request(t, "POST", "/api/auth/login", "", Credentials{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/auth/login", "", Credentials{Email: "alice@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out authResponse
	decode(t, resp, &out)
	assert.NotEmpty(t, out.Token)
	assert.Equal(t, "alice@example.com", out.User.Email)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "GET", "/api/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/documents", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestJWTRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(store.NewMemoryStore(), hub.New(), "test-secret", "", logger)

	token, err := s.signJWT("user-42")
	require.NoError(t, err)

	uid, ok := s.parseJWT(token)
	require.True(t, ok)
	assert.Equal(t, "user-42", uid)

	_, ok = s.parseJWT(token + "tampered")
	assert.False(t, ok)

	other := New(store.NewMemoryStore(), hub.New(), "other-secret", "", logger)
	_, ok = other.parseJWT(token)
	assert.False(t, ok, "token signed with a different secret must not parse")
}

// seedSharedDoc creates a document owned by owner with extra as a
// collaborator, bypassing the API.
func (e *testEnv) seedSharedDoc(t *testing.T, owner string, extra ...string) *model.Document {
	t.Helper()
	doc := model.NewDocument("shared", owner)
	doc.Collaborators = append(doc.Collaborators, extra...)
	require.NoError(t, e.store.CreateDocument(context.Background(), doc))
	return doc
}
