// Package client is a Go client for the coedit server. It keeps a local
// (content, version) mirror per joined document and implements the
// reconciliation rules the protocol expects of every client: tag each
// update with the last-known version, re-fetch on a version mismatch
// instead of retrying, replace the mirror wholesale on a remote update,
// and discard broadcasts that do not advance the local version.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ptrks/coedit/internal/model"
	"github.com/ptrks/coedit/internal/protocol"
)

const fetchTimeout = 5 * time.Second

type Mirror struct {
	Content string
	Version int64
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client

	conn *websocket.Conn
	wmu  sync.Mutex // protects concurrent conn writes

	mu      sync.Mutex
	docs    map[string]Mirror
	pending map[string]string // proposed content awaiting ack, per doc

	events chan protocol.Message
}

// Dial connects to the server's realtime endpoint. baseURL is the HTTP
// base, e.g. "http://localhost:8080".
func Dial(ctx context.Context, baseURL, token string) (*Client, error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    http.DefaultClient,
		conn:    conn,
		docs:    make(map[string]Mirror),
		pending: make(map[string]string),
		events:  make(chan protocol.Message, 64),
	}
	go c.readLoop()
	return c, nil
}

// Close drops the connection. The events channel is closed once the
// read loop observes the closed socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Events exposes every server message after the client has applied it
// to its mirrors. Frames are dropped if the receiver falls behind.
func (c *Client) Events() <-chan protocol.Message {
	return c.events
}

// Snapshot returns the local mirror of docID.
func (c *Client) Snapshot(docID string) (Mirror, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.docs[docID]
	return m, ok
}

// Join fetches the authoritative snapshot and subscribes to the
// document's room. The baseline fetch happens before subscribing; any
// broadcast for a version the snapshot already covers is discarded by
// the read loop, and the join ack's version closes the opposite gap.
func (c *Client) Join(ctx context.Context, docID string) error {
	doc, err := c.fetch(ctx, docID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.docs[docID] = Mirror{Content: doc.Content, Version: doc.Version}
	c.mu.Unlock()

	return c.send(protocol.Message{Type: protocol.MsgJoinDocument, DocumentID: docID})
}

// Edit proposes replacing docID's content, tagged with the version the
// mirror last saw. The mirror itself is only advanced by the ack.
func (c *Client) Edit(docID, content string) error {
	c.mu.Lock()
	m, ok := c.docs[docID]
	if ok {
		c.pending[docID] = content
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("not joined to %s", docID)
	}

	return c.send(protocol.Message{
		Type:       protocol.MsgDocumentUpdate,
		DocumentID: docID,
		Content:    content,
		Version:    m.Version,
	})
}

// Presence relays an opaque payload to the other room members.
func (c *Client) Presence(docID string, payload json.RawMessage) error {
	return c.send(protocol.Message{
		Type:       protocol.MsgPresenceUpdate,
		DocumentID: docID,
		Payload:    payload,
	})
}

func (c *Client) send(m protocol.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(m)
}

func (c *Client) readLoop() {
	for {
		var m protocol.Message
		if err := c.conn.ReadJSON(&m); err != nil {
			close(c.events)
			return
		}

		switch m.Type {
		case protocol.MsgDocumentJoined:
			c.applyJoined(m)
		case protocol.MsgDocumentUpdate:
			c.applyRemote(m)
		case protocol.MsgUpdateAck:
			c.applyAck(m)
		case protocol.MsgVersionMismatch:
			c.resync(m.DocumentID)
		}

		select {
		case c.events <- m:
		default:
		}
	}
}

// applyJoined handles the fetch/subscribe gap: an update accepted
// after the baseline fetch but before the room subscription was never
// broadcast here, so a join ack announcing a newer version means the
// mirror is already behind. Refetch instead of waiting for a broadcast
// that will not come.
func (c *Client) applyJoined(m protocol.Message) {
	c.mu.Lock()
	local, ok := c.docs[m.DocumentID]
	c.mu.Unlock()
	if ok && m.Version > local.Version {
		c.resync(m.DocumentID)
	}
}

// applyRemote replaces the mirror wholesale with a broadcast update.
// A version at or below the local one carries nothing new and is
// discarded, which makes redelivery and the join/broadcast race benign.
func (c *Client) applyRemote(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	local, ok := c.docs[m.DocumentID]
	if !ok || m.Version <= local.Version {
		return
	}
	c.docs[m.DocumentID] = Mirror{Content: m.Content, Version: m.Version}
}

func (c *Client) applyAck(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	local, ok := c.docs[m.DocumentID]
	if !ok || m.Version <= local.Version {
		return
	}
	content, had := c.pending[m.DocumentID]
	if !had {
		return
	}
	delete(c.pending, m.DocumentID)
	c.docs[m.DocumentID] = Mirror{Content: content, Version: m.Version}
}

// resync handles a rejected proposal: drop the stale assumption, fetch
// the authoritative state, resume from there. The rejected edit is
// never retried as-is.
func (c *Client) resync(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	doc, err := c.fetch(ctx, docID)
	if err != nil {
		return
	}

	c.mu.Lock()
	delete(c.pending, docID)
	local := c.docs[docID]
	if doc.Version > local.Version {
		c.docs[docID] = Mirror{Content: doc.Content, Version: doc.Version}
	}
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context, docID string) (*model.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/documents/"+docID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch document: status %d", resp.StatusCode)
	}

	var doc model.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// Login authenticates against the REST API and returns a bearer token.
func Login(ctx context.Context, baseURL, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}
