package protocol

import "encoding/json"

// Command names understood by the relay.
const (
	CommandJoin      = "join"
	CommandLeave     = "leave"
	CommandSend      = "send"
	CommandRoomUsers = "room_users"
)

// Command is one JSON object sent to the relay.
type Command struct {
	Command string `json:"command"`
	Room    RoomID `json:"room"`
	Message string `json:"message,omitempty"`
}

func JoinCommand(room RoomID) Command  { return Command{Command: CommandJoin, Room: room} }
func LeaveCommand(room RoomID) Command { return Command{Command: CommandLeave, Room: room} }

func SendCommand(room RoomID, text string) Command {
	return Command{Command: CommandSend, Room: room, Message: text}
}

// RoomUsersCommand asks the relay for the presence list of a room.
func RoomUsersCommand(room RoomID) Command {
	return Command{Command: CommandRoomUsers, Room: room}
}

// Encode serializes the command for the wire.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}
