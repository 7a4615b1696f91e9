package notify

import (
	"strings"
	"sync"

	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/protocol"
)

// Permission mirrors the host's notification permission states.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// ParsePermission accepts "granted" and "denied"; anything else is PermissionDefault.
func ParsePermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return PermissionGranted
	case "denied":
		return PermissionDenied
	default:
		return PermissionDefault
	}
}

// Host is the environment that can show notifications.
type Host interface {
	Permission() Permission
	// RequestPermission asks the user and reports the answer through cb, possibly later and on
	// another goroutine.
	RequestPermission(cb func(Permission))
	Show(title, body string) error
}

// Notifier gates alerts and shows the ones that pass, asking for permission when it is still
// undetermined. It never blocks on the host's answer.
type Notifier struct {
	host Host
	log  *logger.Logger

	mu         sync.Mutex
	denied     bool
	requesting bool
	pending    []Alert
}

func NewNotifier(host Host, log *logger.Logger) *Notifier {
	return &Notifier{host: host, log: log}
}

// Prime requests permission once at session start and greets the user when it is granted.
func (n *Notifier) Prime() {
	if n.host.Permission() != PermissionDefault {
		return
	}
	n.mu.Lock()
	if n.requesting {
		n.mu.Unlock()
		return
	}
	n.requesting = true
	n.mu.Unlock()

	n.host.RequestPermission(func(p Permission) {
		n.settle(p)
		if p == PermissionGranted {
			n.show("whisper", "Connected!")
		}
	})
}

// Notify applies ShouldNotify and, when it passes, shows or schedules the alert. The return value
// is the gate decision; whether the alert is finally shown depends on the host permission.
func (n *Notifier) Notify(a Alert, focused bool, openRoom protocol.RoomID) bool {
	if !ShouldNotify(a, focused, openRoom) {
		return false
	}

	n.mu.Lock()
	if n.denied {
		n.mu.Unlock()
		return true
	}
	switch n.host.Permission() {
	case PermissionGranted:
		n.mu.Unlock()
		n.showAlert(a)
		return true
	case PermissionDenied:
		n.denied = true
		n.mu.Unlock()
		return true
	}

	n.pending = append(n.pending, a)
	if n.requesting {
		n.mu.Unlock()
		return true
	}
	n.requesting = true
	n.mu.Unlock()

	n.host.RequestPermission(n.settle)
	return true
}

// settle records the outcome of a permission request and flushes alerts that waited on it.
func (n *Notifier) settle(p Permission) {
	n.mu.Lock()
	n.requesting = false
	pending := n.pending
	n.pending = nil
	if p == PermissionDenied {
		n.denied = true
	}
	n.mu.Unlock()

	if p != PermissionGranted {
		if len(pending) > 0 {
			n.log.Debugf("Dropped %d notifications, permission %s", len(pending), p)
		}
		return
	}
	for _, a := range pending {
		n.showAlert(a)
	}
}

func (n *Notifier) showAlert(a Alert) {
	n.show(a.RoomTitle, a.Sender+": "+a.Body)
}

func (n *Notifier) show(title, body string) {
	if err := n.host.Show(title, body); err != nil {
		n.log.Warnf("Notification failed: %v", err)
	}
}
