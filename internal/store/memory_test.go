package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptrks/coedit/internal/model"
)

func str(s string) *string { return &s }

func seedDoc(t *testing.T, s *MemoryStore, content string) *model.Document {
	t.Helper()
	doc := model.NewDocument("notes", "alice")
	doc.Content = content
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc
}

func TestCompareAndSetAccept(t *testing.T) {
	s := NewMemoryStore()
	doc := seedDoc(t, s, "hello")

	res, err := s.CompareAndSet(context.Background(), doc.ID, 0, DocumentUpdate{Content: str("hello world")})
	require.NoError(t, err)
	require.Equal(t, CASAccepted, res.Status)
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, "hello world", res.Doc.Content)

	got, err := s.Document(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Content)
	assert.Equal(t, int64(1), got.Version)
}

func TestCompareAndSetStaleBase(t *testing.T) {
	s := NewMemoryStore()
	doc := seedDoc(t, s, "hello")

	_, err := s.CompareAndSet(context.Background(), doc.ID, 0, DocumentUpdate{Content: str("v1")})
	require.NoError(t, err)

	res, err := s.CompareAndSet(context.Background(), doc.ID, 0, DocumentUpdate{Content: str("stale edit")})
	require.NoError(t, err)
	require.Equal(t, CASConflict, res.Status)
	assert.Equal(t, int64(1), res.Version)

	got, err := s.Document(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Content, "a rejected proposal must not touch the store")
	assert.Equal(t, int64(1), got.Version)
}

func TestCompareAndSetUnknownDocument(t *testing.T) {
	s := NewMemoryStore()

	res, err := s.CompareAndSet(context.Background(), "missing", 0, DocumentUpdate{Content: str("x")})
	require.NoError(t, err)
	assert.Equal(t, CASNotFound, res.Status)

	// No phantom document.
	_, err = s.Document(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndSetSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	doc := seedDoc(t, s, "base")

	// Advance to version 5.
	for v := int64(0); v < 5; v++ {
		res, err := s.CompareAndSet(context.Background(), doc.ID, v, DocumentUpdate{Content: str("step")})
		require.NoError(t, err)
		require.Equal(t, CASAccepted, res.Status)
	}

	const racers = 16
	var wg sync.WaitGroup
	results := make([]CASResult, racers)
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.CompareAndSet(context.Background(), doc.ID, 5, DocumentUpdate{Content: str("racer")})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	accepted, conflicted := 0, 0
	for _, res := range results {
		switch res.Status {
		case CASAccepted:
			accepted++
			assert.Equal(t, int64(6), res.Version)
		case CASConflict:
			conflicted++
			assert.Equal(t, int64(6), res.Version)
		default:
			t.Fatalf("unexpected status %v", res.Status)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, racers-1, conflicted)

	got, err := s.Document(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Version)
}

func TestTitleOnlyUpdate(t *testing.T) {
	s := NewMemoryStore()
	doc := seedDoc(t, s, "body")

	res, err := s.CompareAndSet(context.Background(), doc.ID, 0, DocumentUpdate{Title: str("renamed")})
	require.NoError(t, err)
	require.Equal(t, CASAccepted, res.Status)
	assert.Equal(t, "renamed", res.Doc.Title)
	assert.Equal(t, "body", res.Doc.Content, "content untouched by a title-only update")
	assert.Equal(t, int64(1), res.Doc.Version, "title changes still consume a version")
}

func TestDocumentsForFiltersByMembership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mine := model.NewDocument("mine", "alice")
	shared := model.NewDocument("shared", "bob")
	shared.Collaborators = append(shared.Collaborators, "alice")
	other := model.NewDocument("other", "bob")
	for _, d := range []*model.Document{mine, shared, other} {
		require.NoError(t, s.CreateDocument(ctx, d))
	}

	docs, err := s.DocumentsFor(ctx, "alice")
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, d := range docs {
		ids[d.ID] = true
	}
	assert.Equal(t, map[string]bool{mine.ID: true, shared.ID: true}, ids)
}

func TestAddCollaboratorIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc := seedDoc(t, s, "")

	got, err := s.AddCollaborator(ctx, doc.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Collaborators)

	got, err = s.AddCollaborator(ctx, doc.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Collaborators)

	_, err = s.AddCollaborator(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserEmailUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	u := model.NewUser("Test@Example.com", "hash")
	require.NoError(t, s.CreateUser(ctx, u))

	dup := model.NewUser("test@example.com", "hash2")
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrEmailTaken)

	got, err := s.UserByEmail(ctx, "TEST@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	_, err = s.UserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
