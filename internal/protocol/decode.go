package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	inboundSchemaName  = "inbound_v1.schema.json"
	outboundSchemaName = "outbound_v1.schema.json"
)

var ErrInvalidPayload = errors.New("invalid_payload")

var (
	schemaOnce     sync.Once
	inboundSchema  *jsonschema.Schema
	outboundSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range []string{inboundSchemaName, outboundSchemaName} {
			data, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				schemaErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		if inboundSchema, schemaErr = compiler.Compile(inboundSchemaName); schemaErr != nil {
			return
		}
		outboundSchema, schemaErr = compiler.Compile(outboundSchemaName)
	})
	return schemaErr
}

// Inbound is a decoded, validated client message. Exactly one payload field is set,
// matching Event.
type Inbound struct {
	Event        string
	Game         *GameRef
	Update       *GameUpdate
	Chat         *ChatMessage
	Notification *ClientNotification
}

// GameID returns the game id carried by game events, or "".
func (in Inbound) GameID() string {
	switch {
	case in.Game != nil:
		return in.Game.GameID
	case in.Update != nil:
		return in.Update.GameID
	default:
		return ""
	}
}

// Decode validates raw against the inbound schema and unpacks the payload variant.
// Any structural problem is reported as ErrInvalidPayload.
func Decode(raw []byte) (Inbound, error) {
	if err := loadSchemas(); err != nil {
		return Inbound{}, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := inboundSchema.Validate(doc); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	in := Inbound{Event: env.Event}
	var target any
	switch env.Event {
	case EventGameStart, EventGameLeave, EventGamePause, EventGameResume:
		in.Game = &GameRef{}
		target = in.Game
	case EventGameUpdate:
		in.Update = &GameUpdate{}
		target = in.Update
	case EventChatMessage:
		in.Chat = &ChatMessage{}
		target = in.Chat
	case EventNotification:
		in.Notification = &ClientNotification{}
		target = in.Notification
	default:
		return Inbound{}, fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return in, nil
}

// ValidateOutbound checks an encoded server message against the outbound schema.
func ValidateOutbound(raw []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return outboundSchema.Validate(doc)
}
