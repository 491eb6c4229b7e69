// Package protocol defines the realtime wire envelope and the error
// codes shared by the server and the client library.
package protocol

import "encoding/json"

// Realtime message types. The same envelope travels both directions;
// receivers dispatch on Type and ignore fields a type does not use.
const (
	// client -> server
	MsgJoinDocument   = "join_document"
	MsgDocumentUpdate = "document_update" // also server -> other members
	MsgPresenceUpdate = "presence_update" // relayed verbatim

	// server -> client
	MsgDocumentJoined  = "document_joined"
	MsgUpdateAck       = "update_ack"
	MsgVersionMismatch = "version_mismatch"
	MsgError           = "error"
)

// Error codes shared by the REST and realtime surfaces.
const (
	CodeDocNotFound     = "DOC_NOT_FOUND"
	CodeAccessDenied    = "ACCESS_DENIED"
	CodeVersionMismatch = "VERSION_MISMATCH"
	CodeNotOwner        = "NOT_OWNER"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeAlreadyMember   = "ALREADY_COLLABORATOR"
	CodeValidation      = "VALIDATION_ERROR"
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeStorageError    = "STORAGE_ERROR"
	CodeBadMessage      = "BAD_MESSAGE"
	CodeServerError     = "SERVER_ERROR"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeEmailTaken      = "EMAIL_TAKEN"
)

// Message is the realtime wire envelope.
//
// In a client's document_update, Version is the base version the client
// last saw. In a broadcast document_update and in update_ack it is the
// version the accepted edit produced.
type Message struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	Content    string `json:"content,omitempty"`
	Version    int64  `json:"version,omitempty"`
	UserID     string `json:"userId,omitempty"`

	// Payload is an opaque presence blob (cursor position etc.); the
	// server never looks inside it.
	Payload json.RawMessage `json:"payload,omitempty"`

	CurrentVersion int64  `json:"currentVersion,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}
