// Package notify decides when an inbound message deserves a desktop alert and drives the host that
// shows it.
package notify

import "github.com/erilali/whisper/internal/protocol"

// Alert is the part of a message and its room that the gate looks at.
type Alert struct {
	Room      protocol.RoomID
	RoomTitle string
	Sender    string
	Body      string
	HasBody   bool
	Own       bool
}

// ShouldNotify applies the alert rules in order: never for own messages, never for the room the
// user is looking at, never for events without text.
func ShouldNotify(a Alert, focused bool, openRoom protocol.RoomID) bool {
	if a.Own {
		return false
	}
	if focused && a.Room == openRoom {
		return false
	}
	if !a.HasBody {
		return false
	}
	return true
}
