package chat

import (
	"html/template"
	"time"

	"github.com/erilali/whisper/internal/format"
	"github.com/erilali/whisper/internal/protocol"
	"github.com/google/uuid"
)

// Message is one chat event in a room log. It is immutable once built; the formatted body is
// computed exactly once, at construction.
type Message struct {
	room      protocol.RoomID
	sender    string
	kind      protocol.Kind
	rawBody   string
	hasBody   bool
	formatted template.HTML
	timestamp time.Time
	own       bool
	echo      uuid.UUID
}

func newMessage(room protocol.RoomID, sender string, kind protocol.Kind, body string, hasBody, own bool, at time.Time) *Message {
	m := &Message{
		room:      room,
		sender:    sender,
		kind:      kind,
		hasBody:   hasBody,
		timestamp: at,
		own:       own,
	}
	if hasBody {
		m.rawBody = body
		m.formatted = format.Format(body)
	}
	return m
}

func (m *Message) Room() protocol.RoomID { return m.room }
func (m *Message) Sender() string        { return m.sender }
func (m *Message) Kind() protocol.Kind   { return m.kind }

// RawBody returns the text as received and whether the event carried any.
func (m *Message) RawBody() (string, bool) { return m.rawBody, m.hasBody }

func (m *Message) FormattedBody() template.HTML { return m.formatted }
func (m *Message) Timestamp() time.Time         { return m.timestamp }
func (m *Message) IsOwn() bool                  { return m.own }

// EchoToken identifies an optimistic local copy; it is uuid.Nil for messages from the relay.
func (m *Message) EchoToken() uuid.UUID { return m.echo }
