package server

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptrks/coedit/internal/model"
)

func TestCreateAndGetDocument(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.signup(t, "alice@example.com")

	resp := env.request(t, "POST", "/api/documents", token, createDocumentRequest{Title: "Meeting Notes"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Document
	decode(t, resp, &created)
	assert.Equal(t, "Meeting Notes", created.Title)
	assert.Equal(t, uid, created.Owner)
	assert.Equal(t, int64(0), created.Version)

	resp = env.request(t, "GET", "/api/documents/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got documentResponse
	decode(t, resp, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "owner", got.UserRole)

	resp = env.request(t, "GET", "/api/documents", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var docs []model.Document
	decode(t, resp, &docs)
	require.Len(t, docs, 1)
	assert.Equal(t, created.ID, docs[0].ID)
}

func TestCreateDocumentValidation(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signup(t, "alice@example.com")

	resp := env.request(t, "POST", "/api/documents", token, createDocumentRequest{Title: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetDocumentAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.signup(t, "alice@example.com")
	bobToken, _ := env.signup(t, "bob@example.com")

	doc := env.seedSharedDoc(t, alice)

	resp := env.request(t, "GET", "/api/documents/"+doc.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/documents/nonexistent", bobToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateDocumentOptimisticLocking(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.signup(t, "alice@example.com")
	doc := env.seedSharedDoc(t, uid)

	content, version := "fresh content", int64(0)
	resp := env.request(t, "PATCH", "/api/documents/"+doc.ID, token, updateDocumentRequest{Content: &content, Version: &version})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated model.Document
	decode(t, resp, &updated)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "fresh content", updated.Content)

	// Same base version again: stale.
	stale := "stale edit"
	resp = env.request(t, "PATCH", "/api/documents/"+doc.ID, token, updateDocumentRequest{Content: &stale, Version: &version})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var conflict struct {
		Code           string `json:"code"`
		CurrentVersion int64  `json:"currentVersion"`
	}
	decode(t, resp, &conflict)
	assert.Equal(t, "VERSION_MISMATCH", conflict.Code)
	assert.Equal(t, int64(1), conflict.CurrentVersion)

	// The rejected update left the store untouched.
	resp = env.request(t, "GET", "/api/documents/"+doc.ID, token, nil)
	var got documentResponse
	decode(t, resp, &got)
	assert.Equal(t, "fresh content", got.Content)
	assert.Equal(t, int64(1), got.Version)
}

func TestUpdateDocumentRequiresVersion(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.signup(t, "alice@example.com")
	doc := env.seedSharedDoc(t, uid)

	content := "x"
	resp := env.request(t, "PATCH", "/api/documents/"+doc.ID, token, map[string]string{"content": content})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAddCollaborator(t *testing.T) {
	env := newTestEnv(t)
	aliceToken, alice := env.signup(t, "alice@example.com")
	bobToken, bob := env.signup(t, "bob@example.com")

	doc := env.seedSharedDoc(t, alice)

	// Only the owner may add collaborators.
	resp := env.request(t, "POST", "/api/documents/"+doc.ID+"/collaborators", bobToken, addCollaboratorRequest{Email: "bob@example.com"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/documents/"+doc.ID+"/collaborators", aliceToken, addCollaboratorRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "POST", "/api/documents/"+doc.ID+"/collaborators", aliceToken, addCollaboratorRequest{Email: "bob@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated model.Document
	decode(t, resp, &updated)
	assert.Contains(t, updated.Collaborators, bob)

	resp = env.request(t, "POST", "/api/documents/"+doc.ID+"/collaborators", aliceToken, addCollaboratorRequest{Email: "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Bob can now read the document.
	resp = env.request(t, "GET", "/api/documents/"+doc.ID, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got documentResponse
	decode(t, resp, &got)
	assert.Equal(t, "collaborator", got.UserRole)
}

func TestExportDocument(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.signup(t, "alice@example.com")

	doc := env.seedSharedDoc(t, uid)
	content, version := "# Title\n\nbody", int64(0)
	resp := env.request(t, "PATCH", "/api/documents/"+doc.ID, token, updateDocumentRequest{Content: &content, Version: &version})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.request(t, "GET", "/api/documents/"+doc.ID+"/export/html", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<h1")

	resp = env.request(t, "GET", "/api/documents/"+doc.ID+"/export/markdown", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, content, string(body))

	resp = env.request(t, "GET", "/api/documents/"+doc.ID+"/export/pdf", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
