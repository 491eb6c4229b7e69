// Package hub fans realtime frames out to the members of per-document
// rooms. Membership lives inside each room's goroutine and is only ever
// touched through the room's channels, so all broadcasts for one
// document are delivered in a single total order while rooms for
// different documents run independently.
package hub

import (
	"sync"

	"github.com/ptrks/coedit/internal/metrics"
)

// Hub is the room registry. Members are identified by their send
// channel: joining the same channel twice is a no-op, as is leaving a
// channel that is not a member.
//
// Delivery into a member channel never blocks the room loop. A member
// whose buffer is full misses that frame (and it is counted); a
// connection that stalled badly enough for that to happen is torn down
// by the session layer's ping deadline.
type Hub struct {
	mu    sync.Mutex // guards rooms and each room's refs
	rooms map[string]*room
}

type room struct {
	join      chan chan<- []byte
	leave     chan chan<- []byte
	broadcast chan envelope
	size      chan chan int

	members map[chan<- []byte]bool // owned by the room loop

	// refs counts operations handed to this room but not yet processed.
	// The loop may only exit when refs is zero and the room is empty,
	// which keeps a concurrent Join or Broadcast from writing to a dead
	// room. Guarded by Hub.mu.
	refs int
}

type envelope struct {
	msg     []byte
	exclude chan<- []byte
}

func New() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join subscribes c to docID's room, creating the room on first join.
func (h *Hub) Join(docID string, c chan<- []byte) {
	r := h.acquire(docID, true)
	r.join <- c
}

// Leave removes c from docID's room. Leaving a room c never joined, or a
// room that does not exist, is a no-op.
func (h *Hub) Leave(docID string, c chan<- []byte) {
	r := h.acquire(docID, false)
	if r == nil {
		return
	}
	r.leave <- c
}

// Broadcast delivers msg to every member of docID's room except exclude.
// Broadcasting to a room with no members drops the message.
func (h *Hub) Broadcast(docID string, msg []byte, exclude chan<- []byte) {
	r := h.acquire(docID, false)
	if r == nil {
		return
	}
	r.broadcast <- envelope{msg: msg, exclude: exclude}
}

// Size reports the current membership of docID's room. Because it runs
// through the room loop it also acts as a barrier: once it returns,
// every operation this caller issued before it has been processed.
func (h *Hub) Size(docID string) int {
	r := h.acquire(docID, false)
	if r == nil {
		return 0
	}
	reply := make(chan int, 1)
	r.size <- reply
	return <-reply
}

// acquire looks the room up (or creates it) and reserves one operation
// slot on it. Every acquire must be followed by exactly one send on one
// of the room's channels.
func (h *Hub) acquire(docID string, create bool) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[docID]
	if r == nil {
		if !create {
			return nil
		}
		r = &room{
			join:      make(chan chan<- []byte),
			leave:     make(chan chan<- []byte),
			broadcast: make(chan envelope),
			size:      make(chan chan int),
			members:   make(map[chan<- []byte]bool),
		}
		h.rooms[docID] = r
		metrics.OpenRooms.Inc()
		go r.run(h, docID)
	}
	r.refs++
	return r
}

// release retires one processed operation. Reports whether the loop
// should exit, in which case the room is already unreachable.
func (h *Hub) release(r *room, docID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r.refs--
	if r.refs == 0 && len(r.members) == 0 {
		delete(h.rooms, docID)
		metrics.OpenRooms.Dec()
		return true
	}
	return false
}

func (r *room) run(h *Hub, docID string) {
	for {
		select {
		case c := <-r.join:
			r.members[c] = true
		case c := <-r.leave:
			delete(r.members, c)
		case env := <-r.broadcast:
			for c := range r.members {
				if c == env.exclude {
					continue
				}
				select {
				case c <- env.msg:
				default:
					metrics.BroadcastDrops.Inc()
				}
			}
		case reply := <-r.size:
			reply <- len(r.members)
		}

		if h.release(r, docID) {
			return
		}
	}
}
