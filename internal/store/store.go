// Package store owns the authoritative (content, version) pair of every
// document. All mutation of document content goes through CompareAndSet;
// there is no other writer.
package store

import (
	"context"
	"errors"

	"github.com/ptrks/coedit/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

// CASStatus tags the outcome of a compare-and-set attempt. Conflicts are
// an expected outcome, not an error, so callers are forced to branch on
// the status rather than pattern-match an error string.
type CASStatus int

const (
	// CASAccepted: the proposal won; the document now carries the new
	// content at expected+1.
	CASAccepted CASStatus = iota
	// CASConflict: the caller's base version is stale. Version carries
	// the now-current version so the caller can resynchronize.
	CASConflict
	// CASNotFound: no document with that id. Distinct from a conflict;
	// a proposal must never create a document.
	CASNotFound
)

type CASResult struct {
	Status  CASStatus
	Version int64 // new version on accept, current version on conflict

	// Doc is the updated document, set only on CASAccepted.
	Doc *model.Document
}

// DocumentUpdate is the payload of a compare-and-set. Nil fields are left
// unchanged; the HTTP path may send a title-only update, the realtime
// path always sends content.
type DocumentUpdate struct {
	Content *string
	Title   *string
}

// DocumentStore is the single shared mutable resource of the system.
// CompareAndSet is atomic per document id: of two racing proposals with
// the same expected version exactly one is accepted, and operations on
// different documents never contend with each other.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	// Document returns ErrNotFound for unknown ids.
	Document(ctx context.Context, id string) (*model.Document, error)
	// DocumentsFor lists every document uid owns or collaborates on.
	DocumentsFor(ctx context.Context, uid string) ([]*model.Document, error)
	CompareAndSet(ctx context.Context, id string, expected int64, upd DocumentUpdate) (CASResult, error)
	// AddCollaborator is idempotent and returns the updated document.
	AddCollaborator(ctx context.Context, id, uid string) (*model.Document, error)
}

type UserStore interface {
	// CreateUser returns ErrEmailTaken if the email is already registered.
	CreateUser(ctx context.Context, u *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
}

// Store is what the server wires up: one backend serving both roles.
type Store interface {
	DocumentStore
	UserStore
}
