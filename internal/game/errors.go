package game

import "errors"

var (
	ErrSessionNotFound      = errors.New("session_not_found")
	ErrInvalidSetup         = errors.New("invalid_setup")
	ErrGameFull             = errors.New("game_full")
	ErrNotParticipant       = errors.New("not_participant")
	ErrGameOver             = errors.New("game_over")
	ErrInvalidState         = errors.New("invalid_state")
	ErrNotPauser            = errors.New("not_pauser")
	ErrPauseUsed            = errors.New("pause_already_used")
	ErrOpponentDisconnected = errors.New("opponent_disconnected")
	ErrInvalidDirection     = errors.New("invalid_direction")
	ErrStaleInput           = errors.New("stale_input")
	ErrAlreadyInGame        = errors.New("already_in_game")
)

var userNotices = map[error]string{
	ErrSessionNotFound:      "Game not found",
	ErrGameFull:             "Game is full",
	ErrNotParticipant:       "You are not a player in this game",
	ErrGameOver:             "Game has already ended",
	ErrInvalidState:         "Action not allowed in the current game state",
	ErrNotPauser:            "Only the player who paused can resume",
	ErrPauseUsed:            "You already used your pause this match",
	ErrOpponentDisconnected: "Waiting for your opponent to reconnect",
	ErrAlreadyInGame:        "Leave your current game before starting another",
}

// IsUserFacing reports whether err is an expected condition the player should see as a warning.
func IsUserFacing(err error) bool {
	_, ok := lookupNotice(err)
	return ok
}

// NoticeMessage returns the player-facing text for an expected error.
func NoticeMessage(err error) string {
	msg, ok := lookupNotice(err)
	if !ok {
		return "Something went wrong"
	}
	return msg
}

func lookupNotice(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	for target, msg := range userNotices {
		if errors.Is(err, target) {
			return msg, true
		}
	}
	return "", false
}
