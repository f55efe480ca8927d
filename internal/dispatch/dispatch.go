// Package dispatch routes authenticated envelopes to message handlers and
// turns each outcome into exactly one reply to the originating connection.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/protocol"
	"github.com/Tyrowin/gochat/internal/router"
)

// Request is what a handler receives.
type Request struct {
	Identity auth.Identity
	Payload  json.RawMessage
}

// Handler processes one envelope type. Returning nil acknowledges with
// SUCCESS; returning an error built by Fail reports that error type; any
// other error is reported as "unknown".
type Handler interface {
	Handle(ctx context.Context, req Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) error { return f(ctx, req) }

// DomainError is a handler-signaled failure with a machine-readable type that
// is sent to the client verbatim.
type DomainError struct {
	Type string
}

func (e *DomainError) Error() string { return "domain error: " + e.Type }

// Fail returns a DomainError of the given type.
func Fail(errorType string) error {
	return &DomainError{Type: errorType}
}

// ErrorType extracts the client-facing error type from err. Errors that are
// not domain errors map to protocol.ErrorUnknown.
func ErrorType(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return protocol.ErrorUnknown
}

// Sender delivers the reply. *router.Router satisfies it.
type Sender interface {
	SendToConnection(userID string, h router.Handle, msgType string, payload any)
}

// Dispatcher holds the handler table. Register handlers before the first
// Dispatch; the table is read-only afterwards.
type Dispatcher struct {
	sender   Sender
	handlers map[string]Handler
	log      zerolog.Logger
}

// New creates an empty Dispatcher replying through sender.
func New(sender Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// Handle registers h for msgType. It panics on duplicate or reserved types.
func (d *Dispatcher) Handle(msgType string, h Handler) {
	if msgType == "" || msgType == protocol.TypeAuthenticate {
		panic(fmt.Sprintf("dispatch: cannot register handler for %q", msgType))
	}
	if _, dup := d.handlers[msgType]; dup {
		panic(fmt.Sprintf("dispatch: duplicate handler for %q", msgType))
	}
	d.handlers[msgType] = h
}

// HandleFunc registers a function handler.
func (d *Dispatcher) HandleFunc(msgType string, f func(ctx context.Context, req Request) error) {
	d.Handle(msgType, HandlerFunc(f))
}

// Types lists the registered message types.
func (d *Dispatcher) Types() []string {
	out := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch runs the handler for env and sends exactly one reply to the
// connection identified by (id, h).
func (d *Dispatcher) Dispatch(ctx context.Context, id auth.Identity, h router.Handle, env protocol.Envelope) {
	reply := func(msgType string, payload any) {
		d.sender.SendToConnection(id.UserID, h, msgType, payload)
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		reply(protocol.TypeError, protocol.ErrorPayload{
			Type:          protocol.ErrorUnsupportedMessageType,
			TransactionID: env.TransactionID,
		})
		return
	}

	err := d.run(ctx, handler, Request{Identity: id, Payload: env.Payload}, env.Type)
	if err == nil {
		reply(protocol.TypeSuccess, protocol.SuccessPayload{TransactionID: env.TransactionID})
		return
	}

	errType := ErrorType(err)
	if errType == protocol.ErrorUnknown {
		d.log.Error().
			Err(err).
			Str("type", env.Type).
			Str("user", id.UserID).
			Msg("handler failed")
	}
	reply(protocol.TypeError, protocol.ErrorPayload{
		Type:          errType,
		TransactionID: env.TransactionID,
	})
}

func (d *Dispatcher) run(ctx context.Context, h Handler, req Request, msgType string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().
				Interface("panic", p).
				Str("type", msgType).
				Str("user", req.Identity.UserID).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, req)
}
