package chat

import (
	"sync"

	"github.com/erilali/whisper/internal/protocol"
)

// RoomInfo is one entry of the room catalog handed to the client at startup.
type RoomInfo struct {
	ID    protocol.RoomID `json:"id"`
	Title string          `json:"title"`
}

// Room is a chat room known to this session. Only the Registry mutates it.
type Room struct {
	id    protocol.RoomID
	title string

	mu       sync.RWMutex
	messages []*Message
	joined   bool
	live     bool
	presence map[string]protocol.PresenceUser
}

func newRoom(info RoomInfo) *Room {
	return &Room{id: info.ID, title: info.Title}
}

func (r *Room) ID() protocol.RoomID { return r.id }
func (r *Room) Title() string       { return r.title }

// Messages returns a copy of the log in arrival order.
func (r *Room) Messages() []*Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Message(nil), r.messages...)
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// Joined reports whether a join was issued and not yet followed by a leave.
func (r *Room) Joined() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.joined
}

// Live reports whether the relay has confirmed the room on the current connection.
func (r *Room) Live() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Presence returns the last room_users snapshot, keyed by user id.
func (r *Room) Presence() map[string]protocol.PresenceUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]protocol.PresenceUser, len(r.presence))
	for k, v := range r.presence {
		out[k] = v
	}
	return out
}

func (r *Room) append(m *Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *Room) setJoined(v bool) {
	r.mu.Lock()
	r.joined = v
	r.mu.Unlock()
}

func (r *Room) setLive(v bool) {
	r.mu.Lock()
	r.live = v
	r.mu.Unlock()
}

func (r *Room) setPresence(users map[string]protocol.PresenceUser) {
	r.mu.Lock()
	r.presence = users
	r.mu.Unlock()
}
