// Package protocol defines the envelope exchanged over a GoChat WebSocket
// connection. Every text frame carries exactly one JSON envelope.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved envelope types.
const (
	// Client → Server
	TypeAuthenticate = "AUTHENTICATE"

	// Server → Client
	TypeWelcome         = "WELCOME"
	TypeUnauthenticated = "UNAUTHENTICATED"
	TypeError           = "ERROR"
	TypeSuccess         = "SUCCESS"

	// Both directions: inbound carries TextMessagePayload, outbound StoredMessage.
	TypeTextMessage = "TEXT_MESSAGE"
)

// Error type tags carried in ErrorPayload.Type.
const (
	ErrorUnknown                = "unknown"
	ErrorUnsupportedMessageType = "unsupported_message_type"
	ErrorRateLimited            = "rate_limited"
	ErrorAuthInProgress         = "authentication_in_progress"
	ErrorMissingRoom            = "missing_room"
	ErrorMissingContent         = "missing_content"
	ErrorNotInRoom              = "not_in_room"
)

// ErrMalformed is returned by Decode when a frame is not a JSON envelope.
var ErrMalformed = errors.New("protocol: malformed envelope")

var (
	emptyObject = json.RawMessage("{}")
	jsonNull    = []byte("null")
)

// Envelope is the wire unit. TransactionID is opaque: whatever the client
// supplied is echoed back unchanged, and it stays empty when none was given.
type Envelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	TransactionID json.RawMessage `json:"transactionid,omitempty"`
}

// Decode parses a single frame. The frame must be a JSON object. A missing
// payload decodes to an empty object and a null transaction id is treated as
// absent.
func Decode(data []byte) (Envelope, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: frame is not a JSON object", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, jsonNull) {
		env.Payload = emptyObject
	}
	if bytes.Equal(env.TransactionID, jsonNull) {
		env.TransactionID = nil
	}
	return env, nil
}

// Encode builds the frame for an outbound envelope. A nil payload is sent as {}.
func Encode(msgType string, payload any) ([]byte, error) {
	raw := emptyObject
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// ---------------------------------------------------------------------------
// Payload types
// ---------------------------------------------------------------------------

// AuthenticatePayload is the body of an AUTHENTICATE envelope.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// WelcomePayload confirms a successful authentication.
type WelcomePayload struct {
	UserID        string          `json:"userId"`
	Username      string          `json:"username"`
	Expires       int64           `json:"expires"` // Unix milliseconds
	TransactionID json.RawMessage `json:"transactionid,omitempty"`
}

// UnauthenticatedPayload accompanies UNAUTHENTICATED replies.
type UnauthenticatedPayload struct {
	TransactionID json.RawMessage `json:"transactionid,omitempty"`
}

// ErrorPayload is the body of every ERROR reply.
type ErrorPayload struct {
	Type          string          `json:"type"`
	TransactionID json.RawMessage `json:"transactionid,omitempty"`
}

// SuccessPayload acknowledges a handled envelope.
type SuccessPayload struct {
	TransactionID json.RawMessage `json:"transactionid,omitempty"`
}

// TextMessagePayload is sent by a client to post into a room.
type TextMessagePayload struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// StoredMessage is the representation of a persisted message broadcast to a room.
type StoredMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Author    string `json:"author"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}
