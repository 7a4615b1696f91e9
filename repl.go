// repl.go
// Line-oriented stdin commands driving the room registry.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/erilali/whisper/internal/chat"
	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/protocol"
)

const helpText = `commands:
  /rooms          list rooms (* marks the open one)
  /open N         open room N (leaves the current one unless --multi-room)
  /close N        leave room N
  /join N         join room N
  /leave N        leave room N
  /toggle N       join or leave room N
  /users [N]      who is in room N (default: open room)
  /focus, /blur   tell the client whether you are watching
  /quit           exit
anything else is sent to the open room
`

var errNoOpenRoom = errors.New("no room open, use /open N")

type repl struct {
	reg  *chat.Registry
	view *terminalView
	log  *logger.Logger
}

func newREPL(reg *chat.Registry, view *terminalView, log *logger.Logger) *repl {
	return &repl{reg: reg, view: view, log: log}
}

// run reads lines until EOF or /quit.
func (r *repl) run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		quit, err := r.exec(scanner.Text())
		if err != nil {
			r.view.printf("! %v\n", err)
		}
		if quit {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.Errorf("Error reading input: %v", err)
	}
}

func (r *repl) exec(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		id, ok := r.reg.Displayed()
		if !ok {
			return false, errNoOpenRoom
		}
		_, err := r.reg.Send(id, line)
		return false, err
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		r.view.printf("%s", helpText)
		return false, nil
	case "rooms":
		id, ok := r.reg.Displayed()
		r.view.printRooms(r.reg.Rooms(), id, ok)
		return false, nil
	case "focus":
		r.reg.SetFocused(true)
		return false, nil
	case "blur":
		r.reg.SetFocused(false)
		return false, nil
	case "users":
		if arg == "" {
			id, ok := r.reg.Displayed()
			if !ok {
				return false, errNoOpenRoom
			}
			return false, r.reg.RequestPresence(id)
		}
	}

	actions := map[string]func(protocol.RoomID) error{
		"open":   r.reg.OpenRoom,
		"close":  r.reg.CloseRoom,
		"join":   r.reg.Join,
		"leave":  r.reg.Leave,
		"toggle": r.reg.Toggle,
		"users":  r.reg.RequestPresence,
	}
	action, ok := actions[name]
	if !ok {
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
	if arg == "" {
		return false, fmt.Errorf("/%s needs a room number", name)
	}
	id, err := r.resolveRoom(arg)
	if err != nil {
		return false, err
	}
	return false, action(id)
}

// resolveRoom accepts a catalog position ("2" or "#2") and falls back to a literal room id.
func (r *repl) resolveRoom(arg string) (protocol.RoomID, error) {
	rooms := r.reg.Rooms()
	if idx, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil && idx >= 0 && idx < len(rooms) {
		return rooms[idx].ID(), nil
	}
	id := protocol.RoomID(arg)
	if _, ok := r.reg.Room(id); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", chat.ErrUnknownRoom, arg)
}
