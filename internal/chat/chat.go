// Package chat relays direct messages between connected users and hands them to the
// backend for persistence.
package chat

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"pong-realtime/internal/protocol"
)

const MaxMessageLength = 500

var (
	ErrEmptyMessage    = errors.New("empty_message")
	ErrMessageTooLong  = errors.New("message_too_long")
	ErrSelfMessage     = errors.New("self_message")
	ErrMissingReceiver = errors.New("missing_receiver")
)

var notices = map[error]string{
	ErrEmptyMessage:    "Message cannot be empty",
	ErrMessageTooLong:  "Message is too long",
	ErrSelfMessage:     "You cannot message yourself",
	ErrMissingReceiver: "Choose who to send the message to",
}

func NoticeFor(err error) (string, bool) {
	for target, msg := range notices {
		if errors.Is(err, target) {
			return msg, true
		}
	}
	return "", false
}

type Sender interface {
	SendTo(userID, event string, payload any) bool
}

type Persister interface {
	ReportChat(senderID, receiverID, message string)
}

type Service struct {
	out     Sender
	persist Persister
	clock   clockwork.Clock
}

func NewService(out Sender, persist Persister, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{out: out, persist: persist, clock: clock}
}

// Send validates the message, pushes it to the receiver when online and queues it
// for persistence either way. It reports whether the receiver got it live.
func (s *Service) Send(senderID string, msg protocol.ChatMessage) (bool, error) {
	receiver := strings.TrimSpace(msg.ReceiverID)
	text := strings.TrimSpace(msg.Message)
	switch {
	case receiver == "":
		return false, ErrMissingReceiver
	case receiver == senderID:
		return false, ErrSelfMessage
	case text == "":
		return false, ErrEmptyMessage
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return false, ErrMessageTooLong
	}

	metricChatSentTotal.Add(1)
	delivered := s.out.SendTo(receiver, protocol.EventChatMessage, protocol.ChatDelivery{
		SenderID:  senderID,
		Message:   text,
		Timestamp: s.clock.Now().UnixMilli(),
	})
	if delivered {
		metricChatDeliveredTotal.Add(1)
	}
	if s.persist != nil {
		s.persist.ReportChat(senderID, receiver, text)
	}
	log.Debug().Str("sender_id", senderID).Str("receiver_id", receiver).Bool("live", delivered).Msg("chat_message_sent")
	return delivered, nil
}
