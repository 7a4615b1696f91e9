package notify

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/protocol"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protocolID(s string) protocol.RoomID { return protocol.RoomID(s) }

func runNATS(t *testing.T) *nats.Conn {
	t.Helper()
	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go s.Start()
	require.True(t, s.ReadyForConnections(5*time.Second), "nats server did not start")
	t.Cleanup(s.Shutdown)

	nc, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSHostPermissionAndShow(t *testing.T) {
	nc := runNATS(t)

	_, err := nc.Subscribe(SubjectPermission, func(m *nats.Msg) {
		_ = m.Respond([]byte("granted"))
	})
	require.NoError(t, err)

	shown := make(chan notification, 1)
	_, err = nc.Subscribe(SubjectNotify, func(m *nats.Msg) {
		var n notification
		if json.Unmarshal(m.Data, &n) == nil {
			shown <- n
		}
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	host := NewNATSHost(nc, 2*time.Second, logger.Nop())
	n := NewNotifier(host, logger.Nop())
	n.Notify(bobSays("Lobby", "hi"), false, "")

	select {
	case got := <-shown:
		assert.Equal(t, "Lobby", got.Title)
		assert.Equal(t, "bob: hi", got.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never published")
	}
	assert.Equal(t, PermissionGranted, host.Permission())
}

func TestNATSHostNoAgent(t *testing.T) {
	nc := runNATS(t)
	host := NewNATSHost(nc, 200*time.Millisecond, logger.Nop())

	var answered atomic.Bool
	var got atomic.Int32
	host.RequestPermission(func(p Permission) {
		got.Store(int32(p))
		answered.Store(true)
	})

	waitFor(t, answered.Load)
	assert.Equal(t, int32(PermissionDefault), got.Load())
	assert.Equal(t, PermissionDefault, host.Permission())
}

func TestNATSHostFocus(t *testing.T) {
	nc := runNATS(t)
	host := NewNATSHost(nc, time.Second, logger.Nop())

	var focused atomic.Bool
	sub, err := host.SubscribeFocus(focused.Store)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	require.NoError(t, nc.Publish(SubjectFocus, []byte("focus")))
	waitFor(t, focused.Load)

	require.NoError(t, nc.Publish(SubjectFocus, []byte("blur")))
	waitFor(t, func() bool { return !focused.Load() })
}
