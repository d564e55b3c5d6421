// Package protocol defines the websocket wire format: the inbound and outbound
// {event, payload} envelopes, their payload types and the close codes.
package protocol

import (
	"encoding/json"
	"time"

	"pong-realtime/internal/physics"
)

const (
	EventGameStart    = "game_start"
	EventGameLeave    = "game_leave"
	EventGameUpdate   = "game_update"
	EventGamePause    = "game_pause"
	EventGameResume   = "game_resume"
	EventChatMessage  = "chat_message"
	EventNotification = "notification"

	EventConnected       = "connected"
	EventGameEnded       = "game_ended"
	EventCountdownUpdate = "countdown_update"
	EventError           = "error"
)

// Close codes sent with the websocket close frame.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseInternalError  = 1011
	CloseReplaced       = 4000
	CloseInvalidPayload = 4001
	CloseMaxConnections = 4002
	CloseConnectionLost = 4003
)

const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
	NoticeError   = "error"
)

type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
	ModeAI     Mode = "ai"
)

// RequiredPlayers is the number of human players a mode needs before it can start.
func (m Mode) RequiredPlayers() int {
	switch m {
	case ModeRemote:
		return 2
	default:
		return 1
	}
}

func (m Mode) Valid() bool {
	return m == ModeRemote || m == ModeLocal || m == ModeAI
}

type Status string

const (
	StatusPending              Status = "pending"
	StatusActive               Status = "active"
	StatusPaused               Status = "paused"
	StatusFinished             Status = "finished"
	StatusCancelled            Status = "cancelled"
	StatusCancelledServerError Status = "cancelled_server_error"
)

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusCancelledServerError
}

type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type GameRef struct {
	GameID string `json:"gameId"`
}

type GameUpdate struct {
	GameID    string `json:"gameId"`
	Direction string `json:"direction"`
	Sequence  int64  `json:"sequence"`
	Paddle    string `json:"paddle,omitempty"`
}

type ChatMessage struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type ClientNotification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Connected struct {
	UserID string `json:"userId"`
}

// GameState is one recipient's view of a session tick.
type GameState struct {
	GameID       string            `json:"gameId"`
	Status       Status            `json:"status"`
	Ball         physics.Ball      `json:"ball"`
	Paddles      [2]physics.Paddle `json:"paddles"`
	Countdown    int               `json:"countdown"`
	ActivePaddle string            `json:"activePaddle"`
	Sequence     uint64            `json:"sequence"`
}

// GameResult is both the game_ended payload and the body posted to the backend.
type GameResult struct {
	GameID       string     `json:"gameId"`
	ScorePlayer1 int        `json:"scorePlayer1"`
	ScorePlayer2 int        `json:"scorePlayer2"`
	WinnerID     string     `json:"winnerId"`
	LoserID      string     `json:"loserId"`
	Mode         Mode       `json:"mode"`
	StartedAt    *time.Time `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt"`
	Status       Status     `json:"status"`
}

type GamePaused struct {
	GameID   string `json:"gameId"`
	Reason   string `json:"reason"`
	PausedBy string `json:"pausedBy,omitempty"`
}

type CountdownUpdate struct {
	GameID    string `json:"gameId"`
	Countdown int    `json:"countdown"`
	Message   string `json:"message"`
}

type Notification struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type ChatDelivery struct {
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// MatchSetup is what the backend returns for a game id.
type MatchSetup struct {
	GameID       string        `json:"gameId"`
	Mode         Mode          `json:"mode"`
	Players      []SetupPlayer `json:"players"`
	AIDifficulty string        `json:"aiDifficulty,omitempty"`
}

type SetupPlayer struct {
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	UserAlias string `json:"userAlias,omitempty"`
}

type outbound struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Encode marshals an outbound envelope.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Payload: payload})
}

func NewNotification(kind, message string, now time.Time) Notification {
	return Notification{Type: kind, Message: message, Timestamp: now.UnixMilli()}
}
