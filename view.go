// view.go
// Terminal rendering of room events: one line per event, formatted bodies turned into ANSI styles.
package main

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/erilali/whisper/internal/chat"
	"github.com/erilali/whisper/internal/format"
	"github.com/erilali/whisper/internal/protocol"
	"github.com/erilali/whisper/internal/relay"
	"golang.org/x/net/html"
)

const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiItalic    = "\033[3m"
	ansiUnderline = "\033[4m"
	ansiStrike    = "\033[9m"
	ansiYellow    = "\033[33m"
	ansiRed       = "\033[31m"
	ansiCyan      = "\033[36m"
)

var tagStyles = map[string]string{
	"strong": ansiBold,
	"em":     ansiItalic,
	"s":      ansiStrike,
	"code":   ansiCyan,
	"a":      ansiUnderline,
}

type terminalView struct {
	mu       sync.Mutex
	w        io.Writer
	resolver *format.Resolver
	color    bool
}

func newTerminalView(w io.Writer, color bool) *terminalView {
	return &terminalView{w: w, color: color}
}

// setResolver is called once the session exists; the view is needed to build it.
func (v *terminalView) setResolver(r *format.Resolver) {
	v.mu.Lock()
	v.resolver = r
	v.mu.Unlock()
}

func (v *terminalView) printf(format string, args ...interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.w, format, args...)
}

func (v *terminalView) style(code, s string) string {
	if !v.color {
		return s
	}
	return code + s + ansiReset
}

func (v *terminalView) ShowError(code string) {
	v.printf("%s\n", v.style(ansiRed, "! relay error: "+code))
}

func (v *terminalView) RoomOpened(room *chat.Room) {
	v.printf("%s\n", v.style(ansiDim, fmt.Sprintf("-- joined %s (%s)", room.Title(), room.ID())))
}

func (v *terminalView) RoomClosed(room *chat.Room) {
	v.printf("%s\n", v.style(ansiDim, fmt.Sprintf("-- left %s (%s)", room.Title(), room.ID())))
}

func (v *terminalView) MessageAppended(room *chat.Room, msg *chat.Message) {
	prefix := "[" + room.Title() + "] "
	switch msg.Kind() {
	case protocol.KindJoin:
		v.printf("%s%s\n", prefix, v.style(ansiDim, msg.Sender()+" joined"))
	case protocol.KindLeave:
		v.printf("%s%s\n", prefix, v.style(ansiDim, msg.Sender()+" left"))
	case protocol.KindWarning:
		v.printf("%s%s\n", prefix, v.style(ansiYellow, "warning: "+v.render(msg.FormattedBody())))
	case protocol.KindAlert:
		v.printf("%s%s\n", prefix, v.style(ansiRed, "alert: "+v.render(msg.FormattedBody())))
	case protocol.KindMute:
		v.printf("%s%s\n", prefix, v.style(ansiDim, v.render(msg.FormattedBody())))
	default:
		sender := msg.Sender()
		if msg.IsOwn() {
			sender = v.style(ansiBold, sender)
		}
		v.printf("%s%s: %s\n", prefix, sender, v.render(msg.FormattedBody()))
	}
}

func (v *terminalView) PresenceUpdated(room *chat.Room) {
	var names []string
	for _, u := range room.Presence() {
		if u.Left {
			continue
		}
		name := u.Username
		if u.Name != "" && u.Name != u.Username {
			name = fmt.Sprintf("%s (%s)", u.Username, u.Name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	v.printf("[%s] online: %s\n", room.Title(), strings.Join(names, ", "))
}

func (v *terminalView) StatusChanged(status relay.Status) {
	v.printf("%s\n", v.style(ansiDim, "-- connection "+status.String()))
}

func (v *terminalView) printRooms(rooms []*chat.Room, displayed protocol.RoomID, hasDisplayed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, room := range rooms {
		mark := " "
		if hasDisplayed && room.ID() == displayed {
			mark = "*"
		}
		state := ""
		if room.Joined() {
			state = " joined"
			if !room.Live() {
				state += " (pending)"
			}
		}
		fmt.Fprintf(v.w, "%s #%d %s [%s]%s\n", mark, i, room.Title(), room.ID(), state)
	}
}

// render resolves emoji and turns the formatter's markup into terminal text.
func (v *terminalView) render(markup template.HTML) string {
	v.mu.Lock()
	r := v.resolver
	v.mu.Unlock()
	if r != nil {
		markup = r.Resolve(markup)
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(string(markup)))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.WriteString(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "img" {
				b.WriteString(attr(tok, "alt"))
				continue
			}
			if code, ok := tagStyles[tok.Data]; ok && v.color {
				b.WriteString(code)
			}
		case html.EndTagToken:
			tok := z.Token()
			if _, ok := tagStyles[tok.Data]; ok && v.color {
				b.WriteString(ansiReset)
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
