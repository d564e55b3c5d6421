// Package ws is the socket endpoint: it authenticates the upgrade, registers the
// connection, and routes validated client events to the game, pause and chat handlers.
package ws

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/auth"
	"pong-realtime/internal/backend"
	"pong-realtime/internal/chat"
	"pong-realtime/internal/conn"
	"pong-realtime/internal/game"
	"pong-realtime/internal/protocol"
)

const joinTimeout = 10 * time.Second

type Authenticator interface {
	Validate(ctx context.Context, token string) (auth.Identity, error)
}

type Sessions interface {
	Join(ctx context.Context, gameID, userID string) error
	Leave(gameID, userID string) error
	ApplyInput(gameID, userID string, upd protocol.GameUpdate) error
}

type Pauser interface {
	Pause(gameID, userID string) error
	Resume(gameID, userID string) error
}

type Chat interface {
	Send(senderID string, msg protocol.ChatMessage) (bool, error)
}

type Config struct {
	AllowedOrigins  []string
	MaxPayloadBytes int64
	AuthCookieName  string
}

type Server struct {
	cfg      Config
	auth     Authenticator
	conns    *conn.Manager
	sessions Sessions
	pauser   Pauser
	chat     Chat
	clock    clockwork.Clock
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, authn Authenticator, conns *conn.Manager, sessions Sessions, pauser Pauser, chatSvc Chat) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     authn,
		conns:    conns,
		sessions: sessions,
		pauser:   pauser,
		chat:     chatSvc,
		clock:    clockwork.NewRealClock(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Hooks wraps next so every new connection is greeted with its identity before any
// session traffic the hooks may trigger.
func (s *Server) Hooks(next conn.Hooks) conn.Hooks {
	return conn.Hooks{
		OnOpen: func(c *conn.Connection, carried string) {
			s.conns.SendTo(c.UserID(), protocol.EventConnected, protocol.Connected{UserID: c.UserID()})
			if next.OnOpen != nil {
				next.OnOpen(c, carried)
			}
		},
		OnClose: next.OnClose,
	}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r, s.cfg.AuthCookieName)
	ident, err := s.auth.Validate(r.Context(), token)
	if err != nil {
		metricAuthFailuresTotal.Add(1)
		if errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, auth.ErrMissingToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Msg("auth_service_unavailable")
		http.Error(w, "auth unavailable", http.StatusBadGateway)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metricUpgradeFailuresTotal.Add(1)
		log.Debug().Err(err).Str("user_id", ident.UserID).Msg("upgrade_failed")
		return
	}
	if s.cfg.MaxPayloadBytes > 0 {
		wsConn.SetReadLimit(s.cfg.MaxPayloadBytes)
	}

	c, err := s.conns.Register(conn.Identity{
		UserID:    ident.UserID,
		Username:  ident.Username,
		UserAlias: ident.UserAlias,
	}, wsConn)
	if err != nil {
		return
	}
	wsConn.SetPongHandler(func(string) error {
		c.HandlePong(s.clock.Now())
		return nil
	})
	s.readLoop(c, wsConn)
}

func (s *Server) readLoop(c *conn.Connection, wsConn *websocket.Conn) {
	for {
		_, msg, err := wsConn.ReadMessage()
		if err != nil {
			code, reason := protocol.CloseNormal, "closed"
			if errors.Is(err, websocket.ErrReadLimit) {
				metricInvalidPayloadTotal.Add(1)
				code, reason = protocol.CloseInvalidPayload, "payload too large"
			} else if !conn.IsNormalClose(err) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("socket_read_failed")
			}
			s.conns.Remove(c, code, reason)
			return
		}
		in, err := protocol.Decode(msg)
		if err != nil {
			metricInvalidPayloadTotal.Add(1)
			log.Warn().Err(err).Str("user_id", c.UserID()).Msg("invalid_payload")
			s.conns.Remove(c, protocol.CloseInvalidPayload, "invalid payload")
			return
		}
		s.dispatch(c, in)
	}
}

func (s *Server) dispatch(c *conn.Connection, in protocol.Inbound) {
	userID := c.UserID()
	metricMessagesTotal.Add(in.Event, 1)

	var err error
	switch in.Event {
	case protocol.EventGameStart:
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		err = s.sessions.Join(ctx, in.Game.GameID, userID)
		cancel()
	case protocol.EventGameLeave:
		err = s.sessions.Leave(in.Game.GameID, userID)
	case protocol.EventGameUpdate:
		err = s.sessions.ApplyInput(in.Update.GameID, userID, *in.Update)
		if errors.Is(err, game.ErrStaleInput) {
			err = nil
		}
	case protocol.EventGamePause:
		err = s.pauser.Pause(in.Game.GameID, userID)
	case protocol.EventGameResume:
		err = s.pauser.Resume(in.Game.GameID, userID)
	case protocol.EventChatMessage:
		_, err = s.chat.Send(userID, *in.Chat)
	case protocol.EventNotification:
		log.Info().
			Str("user_id", userID).
			Str("type", in.Notification.Type).
			Str("message", in.Notification.Message).
			Msg("client_notification")
	}
	if err != nil {
		s.reportError(c, in, err)
	}
}

func (s *Server) reportError(c *conn.Connection, in protocol.Inbound, err error) {
	if msg, ok := userNotice(err); ok {
		s.conns.SendTo(c.UserID(), protocol.EventNotification, protocol.NewNotification(protocol.NoticeWarning, msg, s.clock.Now()))
		return
	}
	metricHandlerErrorsTotal.Add(in.Event, 1)
	log.Error().
		Err(err).
		Str("event", in.Event).
		Str("user_id", c.UserID()).
		Str("game_id", in.GameID()).
		Msg("handler_failed")
	s.conns.SendTo(c.UserID(), protocol.EventError, protocol.ErrorPayload{Message: "Request could not be completed"})
}

func userNotice(err error) (string, bool) {
	if game.IsUserFacing(err) {
		return game.NoticeMessage(err), true
	}
	if msg, ok := chat.NoticeFor(err); ok {
		return msg, true
	}
	if errors.Is(err, backend.ErrMatchNotFound) {
		return game.NoticeMessage(game.ErrSessionNotFound), true
	}
	return "", false
}

// checkOrigin allows requests without an Origin header and, when no allow-list is
// configured, every origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
