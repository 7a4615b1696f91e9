// Package chat holds the client-side model of rooms and messages and the registry that keeps it in
// sync with the relay.
package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/notify"
	"github.com/erilali/whisper/internal/protocol"
	"github.com/google/uuid"
)

// DefaultEchoWindow is how long an optimistic message waits for its echo from the relay.
const DefaultEchoWindow = 10 * time.Second

var (
	ErrUnknownRoom     = errors.New("unknown room")
	ErrUnsupportedKind = errors.New("unsupported message kind")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNotJoined       = errors.New("room not joined")
)

// Sender transmits commands to the relay.
type Sender interface {
	Send(cmd protocol.Command) error
}

// View receives model changes. Calls happen while the registry is locked, so implementations may
// read rooms and messages but must not call back into the Registry.
type View interface {
	ShowError(code string)
	RoomOpened(room *Room)
	RoomClosed(room *Room)
	MessageAppended(room *Room, msg *Message)
	PresenceUpdated(room *Room)
}

// NopView ignores every change.
type NopView struct{}

func (NopView) ShowError(string)                {}
func (NopView) RoomOpened(*Room)                {}
func (NopView) RoomClosed(*Room)                {}
func (NopView) MessageAppended(*Room, *Message) {}
func (NopView) PresenceUpdated(*Room)           {}

// Alerter decides on and shows notifications for inbound messages.
type Alerter interface {
	Notify(a notify.Alert, focused bool, openRoom protocol.RoomID) bool
}

type Options struct {
	// Username is the local identity; messages from it are own messages.
	Username string
	// MultiRoom lets several rooms stay joined at once. Otherwise opening a room leaves the
	// previous one.
	MultiRoom bool
	// EchoWindow bounds how long an optimistic message waits for its echo.
	EchoWindow time.Duration
	// RoomHint is a catalog position (as in a "#2" URL fragment) opened on the first connect.
	RoomHint string

	View     View
	Notifier Alerter
	Logger   *logger.Logger
	Clock    func() time.Time
}

type pendingEcho struct {
	token  uuid.UUID
	room   protocol.RoomID
	body   string
	sentAt time.Time
}

// Registry owns the rooms of a session, applies inbound frames to them and issues outbound
// commands. All methods are safe for concurrent use; they are serialized by one mutex so the
// model has a single writer.
type Registry struct {
	mu sync.Mutex

	rooms      []*Room
	username   string
	multi      bool
	echoWindow time.Duration
	hint       string

	displayed    protocol.RoomID
	hasDisplayed bool
	focused      bool
	opened       bool
	pending      []pendingEcho

	sender   Sender
	view     View
	notifier Alerter
	log      *logger.Logger
	now      func() time.Time
}

// NewRegistry builds the registry from the room catalog.
func NewRegistry(catalog []RoomInfo, sender Sender, opts Options) *Registry {
	r := &Registry{
		username:   opts.Username,
		multi:      opts.MultiRoom,
		echoWindow: opts.EchoWindow,
		hint:       opts.RoomHint,
		focused:    true,
		sender:     sender,
		view:       opts.View,
		notifier:   opts.Notifier,
		log:        opts.Logger,
		now:        opts.Clock,
	}
	if r.echoWindow <= 0 {
		r.echoWindow = DefaultEchoWindow
	}
	if r.view == nil {
		r.view = NopView{}
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, info := range catalog {
		r.rooms = append(r.rooms, newRoom(info))
	}
	return r
}

func (r *Registry) Username() string { return r.username }

// Rooms returns the rooms in catalog order.
func (r *Registry) Rooms() []*Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Room(nil), r.rooms...)
}

// Room looks a room up by id. The first match wins.
func (r *Registry) Room(id protocol.RoomID) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.lookup(id)
	return room, room != nil
}

// Displayed returns the room the user is looking at, if any.
func (r *Registry) Displayed() (protocol.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayed, r.hasDisplayed
}

// SetFocused records the host window focus state.
func (r *Registry) SetFocused(focused bool) {
	r.mu.Lock()
	r.focused = focused
	r.mu.Unlock()
}

func (r *Registry) Focused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

func (r *Registry) lookup(id protocol.RoomID) *Room {
	for _, room := range r.rooms {
		if room.id == id {
			return room
		}
	}
	return nil
}

func (r *Registry) mustLookup(id protocol.RoomID) (*Room, error) {
	room := r.lookup(id)
	if room == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, id)
	}
	return room, nil
}

// HandleFrame applies one inbound frame. Malformed, unroutable and unsupported frames are logged
// and dropped.
func (r *Registry) HandleFrame(data []byte) {
	ev, err := protocol.DecodeFrame(data)
	if err != nil {
		r.log.Warnf("Dropping frame: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev := ev.(type) {
	case protocol.ErrorEvent:
		r.log.Warnf("Relay error: %s", ev.Code)
		r.view.ShowError(ev.Code)
	case protocol.RoomJoinedEvent:
		r.onRoomJoined(ev)
	case protocol.RoomLeftEvent:
		r.onRoomLeft(ev)
	case protocol.PresenceEvent:
		r.onPresence(ev)
	case protocol.ChatEvent:
		if err := r.onChat(ev); err != nil {
			r.log.Debugf("Dropping chat event: %v", err)
		}
	}
}

func (r *Registry) onRoomJoined(ev protocol.RoomJoinedEvent) {
	room := r.lookup(ev.Room)
	if room == nil {
		r.log.Warnf("Relay opened room %s (%q) missing from the catalog", ev.Room, ev.Title)
		return
	}
	room.setLive(true)
	r.view.RoomOpened(room)
}

func (r *Registry) onRoomLeft(ev protocol.RoomLeftEvent) {
	room := r.lookup(ev.Room)
	if room == nil {
		r.log.Warnf("Relay closed unknown room %s", ev.Room)
		return
	}
	room.setLive(false)
	r.view.RoomClosed(room)
}

func (r *Registry) onPresence(ev protocol.PresenceEvent) {
	room := r.lookup(ev.Room)
	if room == nil {
		r.log.Debugf("Presence for unknown room %s", ev.Room)
		return
	}
	room.setPresence(ev.Users)
	r.view.PresenceUpdated(room)
}

func (r *Registry) onChat(ev protocol.ChatEvent) error {
	room, err := r.mustLookup(ev.Room)
	if err != nil {
		return err
	}
	if !ev.Kind.Valid() {
		r.log.Warnf("Unsupported message type %d in room %s", ev.RawKind, ev.Room)
		return fmt.Errorf("%w: %d", ErrUnsupportedKind, ev.RawKind)
	}

	own := ev.Username == r.username
	if own && ev.Kind == protocol.KindNormal && r.consumeEcho(room.id, ev.Body) {
		return nil
	}

	hasBody := ev.HasBody && ev.Kind.HasBody()
	msg := newMessage(room.id, ev.Username, ev.Kind, ev.Body, hasBody, own, r.now())
	room.append(msg)
	r.view.MessageAppended(room, msg)

	if r.notifier != nil {
		r.notifier.Notify(notify.Alert{
			Room:      room.id,
			RoomTitle: room.title,
			Sender:    msg.sender,
			Body:      msg.rawBody,
			HasBody:   msg.hasBody,
			Own:       msg.own,
		}, r.focused, r.openRoomID())
	}
	return nil
}

func (r *Registry) openRoomID() protocol.RoomID {
	if !r.hasDisplayed {
		return ""
	}
	return r.displayed
}

// consumeEcho drops expired pending echoes and removes the oldest one matching room and body.
func (r *Registry) consumeEcho(room protocol.RoomID, body string) bool {
	now := r.now()
	live := r.pending[:0]
	for _, p := range r.pending {
		if now.Sub(p.sentAt) <= r.echoWindow {
			live = append(live, p)
		}
	}
	r.pending = live

	body = strings.TrimSpace(body)
	for i, p := range r.pending {
		if p.room == room && p.body == body {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			r.log.Debugf("Matched echo %s in room %s", p.token, room)
			return true
		}
	}
	return false
}

func (r *Registry) send(cmd protocol.Command) error {
	if err := r.sender.Send(cmd); err != nil {
		r.log.Warnf("Command %s for room %s not sent: %v", cmd.Command, cmd.Room, err)
		return err
	}
	return nil
}

// join marks the room joined before the relay confirms it. A command that cannot be sent now is
// replayed by Resync on the next open.
func (r *Registry) join(room *Room) {
	if room.Joined() {
		return
	}
	room.setJoined(true)
	_ = r.send(protocol.JoinCommand(room.id))
}

func (r *Registry) leave(room *Room) {
	if !room.Joined() {
		return
	}
	room.setJoined(false)
	_ = r.send(protocol.LeaveCommand(room.id))
	if r.hasDisplayed && r.displayed == room.id {
		r.displayed, r.hasDisplayed = "", false
	}
}

// Join joins a room. In single-room mode this is the same as OpenRoom.
func (r *Registry) Join(id protocol.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.mustLookup(id)
	if err != nil {
		return err
	}
	if !r.multi {
		r.openRoom(room)
		return nil
	}
	r.join(room)
	return nil
}

// Leave leaves a room and stops displaying it.
func (r *Registry) Leave(id protocol.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.mustLookup(id)
	if err != nil {
		return err
	}
	r.leave(room)
	return nil
}

// OpenRoom makes a room the displayed one. Opening the displayed room again does nothing. In
// single-room mode the previously displayed room is left before the target is joined.
func (r *Registry) OpenRoom(id protocol.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.mustLookup(id)
	if err != nil {
		return err
	}
	r.openRoom(room)
	return nil
}

func (r *Registry) openRoom(target *Room) {
	if r.hasDisplayed && r.displayed == target.id {
		return
	}
	if !r.multi && r.hasDisplayed {
		if old := r.lookup(r.displayed); old != nil {
			r.leave(old)
		}
	}
	r.join(target)
	r.displayed, r.hasDisplayed = target.id, true
}

// CloseRoom leaves a room; if it was displayed, nothing is displayed afterwards.
func (r *Registry) CloseRoom(id protocol.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.mustLookup(id)
	if err != nil {
		return err
	}
	r.leave(room)
	if r.hasDisplayed && r.displayed == id {
		r.displayed, r.hasDisplayed = "", false
	}
	return nil
}

// Toggle closes a joined room and opens any other.
func (r *Registry) Toggle(id protocol.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.mustLookup(id)
	if err != nil {
		return err
	}
	if room.Joined() {
		r.leave(room)
		return nil
	}
	r.openRoom(room)
	return nil
}

// Send posts text to a joined room and appends an optimistic copy to its log. The copy is only
// appended once the command was handed to an open connection.
func (r *Registry) Send(id protocol.RoomID, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	room, err := r.mustLookup(id)
	if err != nil {
		return nil, err
	}
	if !room.Joined() {
		return nil, fmt.Errorf("%w: %s", ErrNotJoined, id)
	}
	if err := r.send(protocol.SendCommand(id, text)); err != nil {
		return nil, fmt.Errorf("send to room %s: %w", id, err)
	}

	now := r.now()
	msg := newMessage(id, r.username, protocol.KindNormal, text, true, true, now)
	msg.echo = uuid.New()
	r.pending = append(r.pending, pendingEcho{
		token:  msg.echo,
		room:   id,
		body:   strings.TrimSpace(text),
		sentAt: now,
	})
	room.append(msg)
	r.view.MessageAppended(room, msg)
	return msg, nil
}

// RequestPresence asks the relay who is in a room; the answer arrives as a presence frame.
func (r *Registry) RequestPresence(id protocol.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.mustLookup(id); err != nil {
		return err
	}
	return r.send(protocol.RoomUsersCommand(id))
}

// Resync runs on every successful connect. The relay keeps no membership across connections, so
// each joined room is joined again, once. On the first connect the room hint is applied.
func (r *Registry) Resync() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, room := range r.rooms {
		if room.Joined() {
			_ = r.send(protocol.JoinCommand(room.id))
		}
	}

	first := !r.opened
	r.opened = true
	if !first || r.hint == "" {
		return
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(r.hint), "#"))
	if err != nil || idx < 0 || idx >= len(r.rooms) {
		r.log.Debugf("Ignoring room hint %q", r.hint)
		return
	}
	r.openRoom(r.rooms[idx])
}

// MarkOffline clears the relay-confirmed state of every room after the connection drops.
// Membership intent is kept for Resync.
func (r *Registry) MarkOffline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		room.setLive(false)
	}
}
