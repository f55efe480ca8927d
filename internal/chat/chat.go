// Package chat holds the domain message handlers installed in the
// dispatcher.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/dispatch"
	"github.com/Tyrowin/gochat/internal/protocol"
	"github.com/Tyrowin/gochat/internal/store"
)

// Messages is the persistence the handlers need.
type Messages interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	CreateMessage(ctx context.Context, roomID, authorID, content string) (store.Message, error)
}

// Broadcaster fans an event out to a room. *router.Router satisfies it.
type Broadcaster interface {
	SendToRoom(roomID string, msgType string, payload any)
}

// Handlers implements the chat envelope types.
type Handlers struct {
	messages Messages
	rooms    Broadcaster
	log      zerolog.Logger
}

// NewHandlers creates the chat handlers.
func NewHandlers(messages Messages, rooms Broadcaster, log zerolog.Logger) *Handlers {
	return &Handlers{messages: messages, rooms: rooms, log: log}
}

// Register installs every chat handler in d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.HandleFunc(protocol.TypeTextMessage, h.TextMessage)
}

// TextMessage persists a message and broadcasts it to the room. The author
// must be a member according to the store, not the router cache.
func (h *Handlers) TextMessage(ctx context.Context, req dispatch.Request) error {
	var p protocol.TextMessagePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return fmt.Errorf("decode text message: %w", err)
	}

	if strings.TrimSpace(p.RoomID) == "" {
		return dispatch.Fail(protocol.ErrorMissingRoom)
	}
	if strings.TrimSpace(p.Text) == "" {
		return dispatch.Fail(protocol.ErrorMissingContent)
	}

	ok, err := h.messages.IsMember(ctx, p.RoomID, req.Identity.UserID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return dispatch.Fail(protocol.ErrorNotInRoom)
	}

	msg, err := h.messages.CreateMessage(ctx, p.RoomID, req.Identity.UserID, p.Text)
	if errors.Is(err, store.ErrNotFound) {
		// Room deleted after the membership check.
		return dispatch.Fail(protocol.ErrorNotInRoom)
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	h.rooms.SendToRoom(msg.RoomID, protocol.TypeTextMessage, protocol.StoredMessage{
		ID:        msg.ID,
		Content:   msg.Content,
		Author:    msg.AuthorID,
		Room:      msg.RoomID,
		Timestamp: msg.CreatedAt.UnixMilli(),
	})

	h.log.Debug().
		Str("room", msg.RoomID).
		Str("author", msg.AuthorID).
		Str("message", msg.ID).
		Msg("message posted")
	return nil
}
