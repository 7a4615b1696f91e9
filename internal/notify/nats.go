package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erilali/whisper/internal/logger"
	"github.com/nats-io/nats.go"
)

// Subjects shared with the desktop agent.
const (
	SubjectNotify     = "whisper.notify"
	SubjectPermission = "whisper.notify.permission"
	SubjectFocus      = "whisper.focus"
)

const defaultPermissionTimeout = 30 * time.Second

type notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// NATSHost forwards notifications to a desktop agent listening on NATS. Permission is asked with a
// request/reply round trip on SubjectPermission; the agent answers "granted" or "denied".
type NATSHost struct {
	nc      *nats.Conn
	timeout time.Duration
	log     *logger.Logger

	mu   sync.Mutex
	perm Permission
}

func NewNATSHost(nc *nats.Conn, timeout time.Duration, log *logger.Logger) *NATSHost {
	if timeout <= 0 {
		timeout = defaultPermissionTimeout
	}
	return &NATSHost{nc: nc, timeout: timeout, log: log}
}

func (h *NATSHost) Permission() Permission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perm
}

// RequestPermission asks the agent in the background. No answer leaves the permission undetermined.
func (h *NATSHost) RequestPermission(cb func(Permission)) {
	go func() {
		p := PermissionDefault
		msg, err := h.nc.Request(SubjectPermission, nil, h.timeout)
		if err != nil {
			h.log.Warnf("Notification permission request failed: %v", err)
		} else {
			p = ParsePermission(string(msg.Data))
		}
		if p != PermissionDefault {
			h.mu.Lock()
			h.perm = p
			h.mu.Unlock()
		}
		cb(p)
	}()
}

func (h *NATSHost) Show(title, body string) error {
	data, err := json.Marshal(notification{Title: title, Body: body, Timestamp: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := h.nc.Publish(SubjectNotify, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// SubscribeFocus calls fn with true on "focus" and false on "blur" messages from the agent.
func (h *NATSHost) SubscribeFocus(fn func(focused bool)) (*nats.Subscription, error) {
	return h.nc.Subscribe(SubjectFocus, func(m *nats.Msg) {
		switch string(m.Data) {
		case "focus":
			fn(true)
		case "blur":
			fn(false)
		default:
			h.log.Debugf("Ignoring focus signal %q", string(m.Data))
		}
	})
}
