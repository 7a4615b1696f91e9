// internal/session/session.go
// Wires one chat session together: room catalog, emoji catalog, notification host, focus signal and
// the relay connection feeding the room registry.
package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/erilali/whisper/internal/chat"
	"github.com/erilali/whisper/internal/config"
	"github.com/erilali/whisper/internal/format"
	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/notify"
	"github.com/erilali/whisper/internal/relay"
	"github.com/erilali/whisper/internal/util"
	"github.com/nats-io/nats.go"
)

const natsConnectTimeout = 5 * time.Second

// StatusView is implemented by views that want connection status changes.
type StatusView interface {
	StatusChanged(status relay.Status)
}

type Session struct {
	cfg config.Config
	log *logger.Logger

	manager  *relay.Manager
	registry *chat.Registry
	notifier *notify.Notifier
	emoji    *format.Catalog
	resolver *format.Resolver

	nc       *nats.Conn
	focusSub *nats.Subscription
}

// New builds a session from a validated config. view receives model changes; out is where the
// terminal notification host writes when no NATS bridge is configured.
func New(cfg config.Config, view chat.View, out io.Writer, log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Nop()
	}
	if view == nil {
		view = chat.NopView{}
	}
	s := &Session{cfg: cfg, log: log}

	rooms, err := s.loadRooms()
	if err != nil {
		return nil, err
	}

	s.emoji = format.NewCatalog()
	if cfg.EmojiURL != "" {
		s.emoji.LoadAsync(cfg.EmojiURL, cfg.FetchTimeout.Std(), log.WithField("module", "emoji"))
	}
	s.resolver = format.NewResolver(s.emoji)

	var host notify.Host
	var natsHost *notify.NATSHost
	if cfg.NatsURL != "" {
		s.log.Infof("Connecting to NATS at %s", cfg.NatsURL)
		nc, err := nats.Connect(cfg.NatsURL,
			nats.Name("whisper"),
			nats.Timeout(natsConnectTimeout),
			nats.MaxReconnects(-1))
		if err != nil {
			s.log.Errorf("Error connecting to NATS: %v", err)
			s.log.Warn("Running without the desktop bridge. Notifications go to the terminal.")
		} else {
			s.nc = nc
			natsHost = notify.NewNATSHost(nc, 0, log.WithField("module", "notify"))
			host = natsHost
		}
	}
	if host == nil {
		host = notify.NewTerminalHost(out, notify.ParsePermission(cfg.NotifyPermission))
	}
	s.notifier = notify.NewNotifier(host, log.WithField("module", "notify"))

	s.manager = relay.NewManager(relay.Config{
		InitialDelay: cfg.Reconnect.InitialDelay.Std(),
		MaxDelay:     cfg.Reconnect.MaxDelay.Std(),
		MaxRetries:   cfg.Reconnect.MaxRetries,
	}, log.WithField("module", "relay"))

	s.registry = chat.NewRegistry(rooms, s.manager, chat.Options{
		Username:   cfg.Username,
		MultiRoom:  cfg.MultiRoom,
		EchoWindow: cfg.EchoWindow.Std(),
		RoomHint:   cfg.RoomHint,
		View:       view,
		Notifier:   s.notifier,
		Logger:     log.WithField("module", "registry"),
	})

	s.manager.OnMessage(s.registry.HandleFrame)
	s.manager.OnOpen(func(resumed bool) {
		if resumed {
			s.log.Info("Reconnected, rejoining rooms")
		}
		s.registry.Resync()
	})
	s.manager.OnClose(func(err error) {
		s.registry.MarkOffline()
	})
	if sv, ok := view.(StatusView); ok {
		s.manager.OnStatus(sv.StatusChanged)
	}

	if natsHost != nil {
		sub, err := natsHost.SubscribeFocus(s.registry.SetFocused)
		if err != nil {
			s.log.Warnf("Focus signal unavailable: %v", err)
		} else {
			s.focusSub = sub
		}
	}
	return s, nil
}

func (s *Session) loadRooms() ([]chat.RoomInfo, error) {
	if len(s.cfg.Rooms) > 0 {
		return s.cfg.Rooms, nil
	}
	if s.cfg.RoomsURL == "" {
		return nil, fmt.Errorf("no room catalog configured")
	}
	var rooms []chat.RoomInfo
	if err := util.FetchJSON(s.cfg.RoomsURL, s.cfg.FetchTimeout.Std(), &rooms); err != nil {
		return nil, fmt.Errorf("load room catalog: %w", err)
	}
	s.log.Infof("Loaded %d rooms from %s", len(rooms), s.cfg.RoomsURL)
	return rooms, nil
}

// Start primes notifications and opens the relay connection.
func (s *Session) Start(ctx context.Context) error {
	s.notifier.Prime()
	if err := s.manager.Connect(ctx, s.cfg.RelayURL); err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	return nil
}

// Close stops reconnecting, closes the relay connection and the NATS bridge.
func (s *Session) Close() error {
	err := s.manager.Close()
	if s.focusSub != nil {
		if unsubErr := s.focusSub.Unsubscribe(); unsubErr != nil {
			s.log.Warnf("Error unsubscribing focus signal: %v", unsubErr)
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return err
}

// Wait blocks until the relay connection gives up or is closed.
func (s *Session) Wait() error { return s.manager.Wait() }

func (s *Session) Done() <-chan struct{} { return s.manager.Done() }

func (s *Session) Registry() *chat.Registry   { return s.registry }
func (s *Session) Resolver() *format.Resolver { return s.resolver }
func (s *Session) Status() relay.Status       { return s.manager.Status() }
