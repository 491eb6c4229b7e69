package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ptrks/coedit/internal/model"
)

// MemoryStore keeps everything in process memory. The outer maps are
// guarded by two RWMutexes used only for lookup and insert; every
// document entry has its own lock, so a compare-and-set on one document
// never blocks writers of another.
type MemoryStore struct {
	dmu  sync.RWMutex
	docs map[string]*docEntry

	umu     sync.RWMutex
	users   map[string]*model.User // by id
	byEmail map[string]string      // email -> id
}

type docEntry struct {
	mu  sync.Mutex
	doc model.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]*docEntry),
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *model.Document) error {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	s.docs[doc.ID] = &docEntry{doc: *doc}
	return nil
}

func (s *MemoryStore) entry(id string) *docEntry {
	s.dmu.RLock()
	defer s.dmu.RUnlock()
	return s.docs[id]
}

func (s *MemoryStore) Document(_ context.Context, id string) (*model.Document, error) {
	e := s.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	doc := cloneDoc(&e.doc)
	return doc, nil
}

func (s *MemoryStore) DocumentsFor(_ context.Context, uid string) ([]*model.Document, error) {
	s.dmu.RLock()
	entries := make([]*docEntry, 0, len(s.docs))
	for _, e := range s.docs {
		entries = append(entries, e)
	}
	s.dmu.RUnlock()

	var out []*model.Document
	for _, e := range entries {
		e.mu.Lock()
		if e.doc.HasCollaborator(uid) {
			out = append(out, cloneDoc(&e.doc))
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, id string, expected int64, upd DocumentUpdate) (CASResult, error) {
	e := s.entry(id)
	if e == nil {
		return CASResult{Status: CASNotFound}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc.Version != expected {
		return CASResult{Status: CASConflict, Version: e.doc.Version}, nil
	}

	if upd.Content != nil {
		e.doc.Content = *upd.Content
	}
	if upd.Title != nil {
		e.doc.Title = *upd.Title
	}
	e.doc.Version++
	e.doc.UpdatedAt = time.Now().UTC()

	return CASResult{Status: CASAccepted, Version: e.doc.Version, Doc: cloneDoc(&e.doc)}, nil
}

func (s *MemoryStore) AddCollaborator(_ context.Context, id, uid string) (*model.Document, error) {
	e := s.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.doc.HasCollaborator(uid) {
		e.doc.Collaborators = append(e.doc.Collaborators, uid)
		e.doc.UpdatedAt = time.Now().UTC()
	}
	return cloneDoc(&e.doc), nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	email := strings.ToLower(u.Email)
	s.umu.Lock()
	defer s.umu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*model.User, error) {
	s.umu.RLock()
	defer s.umu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*model.User, error) {
	s.umu.RLock()
	defer s.umu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// cloneDoc copies the entry so callers never alias store-owned state.
func cloneDoc(d *model.Document) *model.Document {
	cp := *d
	cp.Collaborators = append([]string(nil), d.Collaborators...)
	return &cp
}
