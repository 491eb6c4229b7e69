package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ptrks/coedit/internal/export"
	"github.com/ptrks/coedit/internal/log"
	"github.com/ptrks/coedit/internal/model"
	"github.com/ptrks/coedit/internal/protocol"
	"github.com/ptrks/coedit/internal/store"
)

type createDocumentRequest struct {
	Title string `json:"title"`
}

type updateDocumentRequest struct {
	Content *string `json:"content"`
	Title   *string `json:"title"`
	Version *int64  `json:"version"`
}

type documentResponse struct {
	*model.Document
	UserRole string `json:"userRole,omitempty"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeValidation, "title is required")
		return
	}

	doc := model.NewDocument(strings.TrimSpace(req.Title), callerUID(r))
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		log.FromContext(r.Context()).Error("create document", "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to create document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// loadForCollaborator fetches the document and enforces membership,
// writing the error response itself on failure.
func (s *Server) loadForCollaborator(w http.ResponseWriter, r *http.Request) *model.Document {
	id := mux.Vars(r)["id"]
	doc, err := s.store.Document(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, protocol.CodeDocNotFound, "document not found")
		return nil
	}
	if err != nil {
		log.FromContext(r.Context()).Error("fetch document", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to fetch document")
		return nil
	}
	if !doc.HasCollaborator(callerUID(r)) {
		writeError(w, http.StatusForbidden, protocol.CodeAccessDenied, "access denied")
		return nil
	}
	return doc
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.loadForCollaborator(w, r)
	if doc == nil {
		return
	}

	role := "collaborator"
	if doc.Owner == callerUID(r) {
		role = "owner"
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: doc, UserRole: role})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.DocumentsFor(r.Context(), callerUID(r))
	if err != nil {
		log.FromContext(r.Context()).Error("list documents", "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to fetch documents")
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.loadForCollaborator(w, r)
	if doc == nil {
		return
	}

	var req updateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Version == nil {
		writeError(w, http.StatusBadRequest, protocol.CodeValidation, "version is required")
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeValidation, "title must not be empty")
		return
	}

	res, err := s.store.CompareAndSet(r.Context(), doc.ID, *req.Version, store.DocumentUpdate{
		Content: req.Content,
		Title:   req.Title,
	})
	if err != nil {
		log.FromContext(r.Context()).Error("update document", "id", doc.ID, "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to update document")
		return
	}

	switch res.Status {
	case store.CASAccepted:
		writeJSON(w, http.StatusOK, res.Doc)
	case store.CASConflict:
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"message":        "version mismatch",
			"code":           protocol.CodeVersionMismatch,
			"currentVersion": res.Version,
		})
	case store.CASNotFound:
		// Deleted between the membership check and the update.
		writeError(w, http.StatusNotFound, protocol.CodeDocNotFound, "document not found")
	}
}

type addCollaboratorRequest struct {
	Email string `json:"email"`
}

func (s *Server) addCollaborator(w http.ResponseWriter, r *http.Request) {
	doc := s.loadForCollaborator(w, r)
	if doc == nil {
		return
	}
	if doc.Owner != callerUID(r) {
		writeError(w, http.StatusForbidden, protocol.CodeNotOwner, "only the owner can add collaborators")
		return
	}

	var req addCollaboratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeValidation, "email is required")
		return
	}

	user, err := s.store.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, protocol.CodeUserNotFound, "user not found")
		return
	}
	if err != nil {
		log.FromContext(r.Context()).Error("add collaborator", "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to add collaborator")
		return
	}

	if doc.HasCollaborator(user.ID) {
		writeError(w, http.StatusBadRequest, protocol.CodeAlreadyMember, "user is already a collaborator")
		return
	}

	updated, err := s.store.AddCollaborator(r.Context(), doc.ID, user.ID)
	if err != nil {
		log.FromContext(r.Context()).Error("add collaborator", "err", err)
		writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to add collaborator")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) exportDocument(w http.ResponseWriter, r *http.Request) {
	doc := s.loadForCollaborator(w, r)
	if doc == nil {
		return
	}

	switch strings.ToLower(mux.Vars(r)["format"]) {
	case "html":
		out, err := export.ToHTML(doc.Title, doc.Content)
		if err != nil {
			log.FromContext(r.Context()).Error("export", "id", doc.ID, "err", err)
			writeError(w, http.StatusInternalServerError, protocol.CodeServerError, "failed to export document")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Title+".html"))
		w.Write(out)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Title+".md"))
		w.Write(export.ToMarkdown(doc.Content))
	default:
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidFormat, "unsupported export format")
	}
}
