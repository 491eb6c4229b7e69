package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is the authoritative server-side state of one document.
// Content and Version only ever change together, through the store's
// compare-and-set path.
type Document struct {
	ID            string    `json:"id" bson:"_id"`
	Title         string    `json:"title" bson:"title"`
	Content       string    `json:"content" bson:"content"`
	Version       int64     `json:"version" bson:"version"`
	Owner         string    `json:"owner" bson:"owner"`
	Collaborators []string  `json:"collaborators" bson:"collaborators"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt"`
}

// HasCollaborator reports whether uid may read and edit the document.
// The owner is always a collaborator.
func (d *Document) HasCollaborator(uid string) bool {
	if d.Owner == uid {
		return true
	}
	for _, c := range d.Collaborators {
		if c == uid {
			return true
		}
	}
	return false
}

type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	LastLogin    time.Time `json:"lastLogin" bson:"lastLogin"`
}

func NewID() string {
	return uuid.NewString()
}

func NewDocument(title, owner string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:            NewID(),
		Title:         title,
		Owner:         owner,
		Collaborators: []string{owner},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func NewUser(email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		LastLogin:    now,
	}
}
