package notify

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/erilali/whisper/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu       sync.Mutex
	perm     Permission
	answer   Permission
	async    bool
	requests int
	shown    []string
	callback func(Permission)
}

func (h *fakeHost) Permission() Permission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perm
}

func (h *fakeHost) RequestPermission(cb func(Permission)) {
	h.mu.Lock()
	h.requests++
	if h.async {
		h.callback = cb
		h.mu.Unlock()
		return
	}
	h.perm = h.answer
	p := h.perm
	h.mu.Unlock()
	cb(p)
}

// answerNow completes a deferred permission request.
func (h *fakeHost) answerNow() {
	h.mu.Lock()
	cb := h.callback
	h.callback = nil
	h.perm = h.answer
	p := h.perm
	h.mu.Unlock()
	cb(p)
}

func (h *fakeHost) Show(title, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown = append(h.shown, title+"|"+body)
	return nil
}

func (h *fakeHost) Shown() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.shown...)
}

func bobSays(room, body string) Alert {
	return Alert{Room: "1", RoomTitle: room, Sender: "bob", Body: body, HasBody: true}
}

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name     string
		alert    Alert
		focused  bool
		openRoom string
		want     bool
	}{
		{"own message", Alert{Room: "1", Own: true, HasBody: true}, false, "", false},
		{"focused on same room", Alert{Room: "1", HasBody: true}, true, "1", false},
		{"focused on other room", Alert{Room: "2", HasBody: true}, true, "1", true},
		{"same room but blurred", Alert{Room: "1", HasBody: true}, false, "1", true},
		{"no body", Alert{Room: "2"}, false, "1", false},
		{"plain message", Alert{Room: "2", HasBody: true}, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldNotify(tt.alert, tt.focused, protocolID(tt.openRoom)))
		})
	}
}

func TestNotifierGranted(t *testing.T) {
	host := &fakeHost{perm: PermissionGranted}
	n := NewNotifier(host, logger.Nop())

	assert.True(t, n.Notify(bobSays("Lobby", "hi"), false, ""))
	assert.Equal(t, []string{"Lobby|bob: hi"}, host.Shown())
	assert.Zero(t, host.requests)
}

func TestNotifierGateBlocks(t *testing.T) {
	host := &fakeHost{perm: PermissionGranted}
	n := NewNotifier(host, logger.Nop())

	assert.False(t, n.Notify(bobSays("Lobby", "hi"), true, "1"))
	assert.Empty(t, host.Shown())
}

func TestNotifierRequestsInline(t *testing.T) {
	host := &fakeHost{answer: PermissionGranted, async: true}
	n := NewNotifier(host, logger.Nop())

	n.Notify(bobSays("Lobby", "one"), false, "")
	n.Notify(bobSays("Lobby", "two"), false, "")
	assert.Equal(t, 1, host.requests, "a single request covers both alerts")
	assert.Empty(t, host.Shown())

	host.answerNow()
	assert.Equal(t, []string{"Lobby|bob: one", "Lobby|bob: two"}, host.Shown())
}

func TestNotifierDeniedIsSilentForSession(t *testing.T) {
	host := &fakeHost{answer: PermissionDenied}
	n := NewNotifier(host, logger.Nop())

	n.Notify(bobSays("Lobby", "one"), false, "")
	n.Notify(bobSays("Lobby", "two"), false, "")

	assert.Equal(t, 1, host.requests)
	assert.Empty(t, host.Shown())
}

func TestNotifierPrime(t *testing.T) {
	host := &fakeHost{answer: PermissionGranted}
	n := NewNotifier(host, logger.Nop())

	n.Prime()
	n.Prime()

	assert.Equal(t, 1, host.requests)
	assert.Equal(t, []string{"whisper|Connected!"}, host.Shown())
}

func TestTerminalHost(t *testing.T) {
	var buf bytes.Buffer
	host := NewTerminalHost(&buf, PermissionDefault)
	n := NewNotifier(host, logger.Nop())

	n.Notify(bobSays("Lobby", "hi"), false, "")
	assert.Equal(t, PermissionGranted, host.Permission())
	assert.Equal(t, "\a[Lobby] bob: hi\n", buf.String())

	buf.Reset()
	denied := NewTerminalHost(&buf, PermissionDenied)
	NewNotifier(denied, logger.Nop()).Notify(bobSays("Lobby", "hi"), false, "")
	assert.Empty(t, buf.String())
}

func TestParsePermission(t *testing.T) {
	assert.Equal(t, PermissionGranted, ParsePermission(" Granted "))
	assert.Equal(t, PermissionDenied, ParsePermission("denied"))
	assert.Equal(t, PermissionDefault, ParsePermission("maybe"))
	require.Equal(t, "default", PermissionDefault.String())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}
