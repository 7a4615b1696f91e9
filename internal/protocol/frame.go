// Package protocol holds the relay wire format: inbound frames decoded into typed events and the
// outbound command objects.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMalformedFrame is returned when a frame is not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnrecognizedFrame is returned when a frame matches none of the known shapes.
	ErrUnrecognizedFrame = errors.New("unrecognized frame")
)

// RoomID is the relay's opaque room identifier. The relay sends it as a string in some frames and
// as a number in others; both decode to the same RoomID.
type RoomID string

func (id *RoomID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RoomID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("room id: %w", err)
	}
	*id = RoomID(n.String())
	return nil
}

// RoomIDFromInt formats a numeric catalog id.
func RoomIDFromInt(n int) RoomID { return RoomID(strconv.Itoa(n)) }

// Event is one decoded inbound frame. The concrete type is one of ErrorEvent, RoomJoinedEvent,
// RoomLeftEvent, ChatEvent or PresenceEvent.
type Event interface {
	event()
}

// ErrorEvent carries a relay-side command failure such as ROOM_ACCESS_DENIED.
type ErrorEvent struct {
	Code string
}

// RoomJoinedEvent confirms the relay opened a room for this connection.
type RoomJoinedEvent struct {
	Room  RoomID
	Title string
}

// RoomLeftEvent confirms the relay closed a room for this connection.
type RoomLeftEvent struct {
	Room RoomID
}

// ChatEvent is a message or membership notice inside a room.
type ChatEvent struct {
	Room     RoomID
	Username string
	Body     string
	HasBody  bool
	Kind     Kind
	RawKind  int
}

// PresenceUser is one entry of a room_users reply.
type PresenceUser struct {
	Username   string  `json:"username"`
	Name       string  `json:"name"`
	Left       bool    `json:"left"`
	LastUpdate float64 `json:"last_update"`
}

// PresenceEvent is the relay's reply to a room_users command, keyed by user id.
type PresenceEvent struct {
	Room  RoomID
	Users map[string]PresenceUser
}

func (ErrorEvent) event()      {}
func (RoomJoinedEvent) event() {}
func (RoomLeftEvent) event()   {}
func (ChatEvent) event()       {}
func (PresenceEvent) event()   {}

type presenceData struct {
	Users map[string]PresenceUser `json:"users"`
}

type wireFrame struct {
	Error    string        `json:"error"`
	Join     *RoomID       `json:"join"`
	Title    string        `json:"title"`
	Leave    *RoomID       `json:"leave"`
	Room     *RoomID       `json:"room"`
	Username string        `json:"username"`
	Message  *string       `json:"message"`
	MsgType  *int          `json:"msg_type"`
	Data     *presenceData `json:"data"`
}

// anchorTag matches the opening and closing anchor tags the relay's linkifier wraps URLs in.
var anchorTag = regexp.MustCompile(`(?i)<a\s[^>]*>|</a\s*>`)

// PlainText undoes the relay's linkifier: anchor tags are unwrapped and entities unescaped. Any
// other text, tag-like or not, is kept as the sender typed it.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	return html.UnescapeString(anchorTag.ReplaceAllString(s, ""))
}

// DecodeFrame parses one inbound frame. Discriminants are checked in the order the relay protocol
// defines them: error, join, leave, presence, then chat event.
func DecodeFrame(data []byte) (Event, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case f.Error != "":
		return ErrorEvent{Code: f.Error}, nil
	case f.Join != nil:
		return RoomJoinedEvent{Room: *f.Join, Title: f.Title}, nil
	case f.Leave != nil:
		return RoomLeftEvent{Room: *f.Leave}, nil
	case f.Room != nil && f.Data != nil && f.Data.Users != nil:
		return PresenceEvent{Room: *f.Room, Users: f.Data.Users}, nil
	case f.Room != nil && (f.Message != nil || f.MsgType != nil):
		raw := 0
		if f.MsgType != nil {
			raw = *f.MsgType
		}
		ev := ChatEvent{
			Room:     *f.Room,
			Username: f.Username,
			Kind:     ParseKind(raw),
			RawKind:  raw,
		}
		if f.Message != nil {
			ev.Body = PlainText(*f.Message)
			ev.HasBody = true
		}
		return ev, nil
	}
	return nil, ErrUnrecognizedFrame
}
