package notify

import (
	"fmt"
	"io"
	"sync"
)

// TerminalHost rings the terminal bell and prints the alert. A request for permission is granted
// unless the host was configured as denied.
type TerminalHost struct {
	mu   sync.Mutex
	w    io.Writer
	perm Permission
}

func NewTerminalHost(w io.Writer, perm Permission) *TerminalHost {
	return &TerminalHost{w: w, perm: perm}
}

func (h *TerminalHost) Permission() Permission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perm
}

func (h *TerminalHost) RequestPermission(cb func(Permission)) {
	h.mu.Lock()
	if h.perm == PermissionDefault {
		h.perm = PermissionGranted
	}
	p := h.perm
	h.mu.Unlock()
	cb(p)
}

func (h *TerminalHost) Show(title, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.w, "\a[%s] %s\n", title, body)
	return err
}
