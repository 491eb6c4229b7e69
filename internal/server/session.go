package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ptrks/coedit/internal/log"
	"github.com/ptrks/coedit/internal/metrics"
	"github.com/ptrks/coedit/internal/protocol"
	"github.com/ptrks/coedit/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 1 << 20 // updates carry whole documents
	sendBuffer   = 256

	storeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// session is the per-connection gateway between one client and the
// rooms it has joined. One reader goroutine owns the connection's
// inbound side; one writer goroutine owns the outbound side and drains
// the send channel the hub delivers into.
type session struct {
	srv  *Server
	conn *websocket.Conn
	uid  string

	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	joined map[string]bool

	closeOnce sync.Once
}

// serveWS upgrades the connection. The token rides on the upgrade
// request, either as ?token= or a Bearer header.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if parts := strings.SplitN(r.Header.Get("Authorization"), "Bearer ", 2); len(parts) == 2 {
			token = parts[1]
		}
	}
	uid, ok := s.parseJWT(token)
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.FromContext(r.Context()).Warn("ws upgrade", "err", err)
		return
	}

	sess := &session{
		srv:    s,
		conn:   conn,
		uid:    uid,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		joined: make(map[string]bool),
	}
	metrics.ActiveConnections.Inc()
	log.FromContext(r.Context()).Info("ws connected", "uid", uid)

	go sess.writePump()
	sess.readPump()
}

// close tears the session down exactly once, whichever pump detects the
// failure first: leave every joined room, stop the writer, close the
// socket.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		docs := make([]string, 0, len(s.joined))
		for id := range s.joined {
			docs = append(docs, id)
		}
		s.mu.Unlock()

		for _, id := range docs {
			s.srv.hub.Leave(id, s.send)
		}
		close(s.done)
		s.conn.Close()
		metrics.ActiveConnections.Dec()
		s.srv.log.Info("ws disconnected", "uid", s.uid)
	})
}

func (s *session) isJoined(docID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[docID]
}

func (s *session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var m protocol.Message
		if err := s.conn.ReadJSON(&m); err != nil {
			return
		}

		switch m.Type {
		case protocol.MsgJoinDocument:
			s.handleJoin(m)
		case protocol.MsgDocumentUpdate:
			s.handleUpdate(m)
		case protocol.MsgPresenceUpdate:
			s.handlePresence(m)
		default:
			s.reply(protocol.Message{Type: protocol.MsgError, Code: protocol.CodeBadMessage, Message: "unknown message type"})
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// reply queues a frame for this session only.
func (s *session) reply(m protocol.Message) {
	buf, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case s.send <- buf:
	case <-s.done:
	}
}

func (s *session) handleJoin(m protocol.Message) {
	if m.DocumentID == "" {
		s.reply(protocol.Message{Type: protocol.MsgError, Code: protocol.CodeBadMessage, Message: "documentId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	doc, err := s.srv.store.Document(ctx, m.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.reply(protocol.Message{Type: protocol.MsgError, DocumentID: m.DocumentID, Code: protocol.CodeDocNotFound, Message: "document not found"})
		} else {
			s.reply(protocol.Message{Type: protocol.MsgError, DocumentID: m.DocumentID, Code: protocol.CodeStorageError, Message: "could not load document"})
		}
		return
	}
	if !doc.HasCollaborator(s.uid) {
		s.reply(protocol.Message{Type: protocol.MsgError, DocumentID: m.DocumentID, Code: protocol.CodeAccessDenied, Message: "access denied"})
		return
	}

	s.mu.Lock()
	first := !s.joined[m.DocumentID]
	s.joined[m.DocumentID] = true
	s.mu.Unlock()
	if first {
		s.srv.hub.Join(m.DocumentID, s.send)
	}

	s.reply(protocol.Message{Type: protocol.MsgDocumentJoined, DocumentID: m.DocumentID, Version: doc.Version})
}

func (s *session) handleUpdate(m protocol.Message) {
	// An update for a document this session never joined has no
	// baseline here; answered like an unknown document, and nothing is
	// created.
	if !s.isJoined(m.DocumentID) {
		s.reply(protocol.Message{Type: protocol.MsgError, DocumentID: m.DocumentID, Code: protocol.CodeDocNotFound, Message: "not joined to document"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	content := m.Content
	res, err := s.srv.store.CompareAndSet(ctx, m.DocumentID, m.Version, store.DocumentUpdate{Content: &content})
	if err != nil {
		s.srv.log.Error("realtime update", "doc", m.DocumentID, "err", err)
		s.reply(protocol.Message{Type: protocol.MsgError, DocumentID: m.DocumentID, Code: protocol.CodeStorageError, Message: "update failed, retry with fresh state"})
		return
	}

	switch res.Status {
	case store.CASAccepted:
		metrics.UpdatesAccepted.Inc()
		frame, err := json.Marshal(protocol.Message{
			Type:       protocol.MsgDocumentUpdate,
			DocumentID: m.DocumentID,
			Content:    res.Doc.Content,
			Version:    res.Version,
			UserID:     s.uid,
		})
		if err == nil {
			s.srv.hub.Broadcast(m.DocumentID, frame, s.send)
		}
		s.reply(protocol.Message{Type: protocol.MsgUpdateAck, DocumentID: m.DocumentID, Version: res.Version})
	case store.CASConflict:
		metrics.UpdateConflicts.Inc()
		s.reply(protocol.Message{Type: protocol.MsgVersionMismatch, DocumentID: m.DocumentID, CurrentVersion: res.Version})
	case store.CASNotFound:
		s.reply(protocol.Message{Type: protocol.MsgError, DocumentID: m.DocumentID, Code: protocol.CodeDocNotFound, Message: "document not found"})
	}
}

func (s *session) handlePresence(m protocol.Message) {
	// Presence is transient: relayed at most once, never stored, never
	// version-checked.
	if !s.isJoined(m.DocumentID) {
		return
	}
	m.UserID = s.uid
	frame, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.srv.hub.Broadcast(m.DocumentID, frame, s.send)
}
