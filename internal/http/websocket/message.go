package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the unit of traffic on the activity socket. The Id field
// can be used when replying to a message so the receiving client is aware of
// which message the reply is for; Origin serves the same purpose on the
// server side, routing the reply to the websocket of the client with the
// matching UUID.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks the message body contains each required key with
// a value of the required primitive type ("string" or "number"/"int").
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	const errFmt = "failed to validate key '%v' with type '%v' - %#v"

	for key, wantType := range required {
		value, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch wantType {
		case "number", "int":
			if _, ok := value.(float64); !ok {
				return fmt.Errorf(errFmt, key, wantType, value)
			}
		case "string":
			if fmt.Sprintf("%v", value) == "" {
				return fmt.Errorf(errFmt, key, wantType, value)
			}
		default:
			return fmt.Errorf(errFmt, key, wantType, "unknown type")
		}
	}

	return nil
}

// FormReply returns a NEW message with the same origin/id as the original,
// but with a new (caller provided) title, body and type.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
