// Package bus is the typed request-response surface between the core
// services and UI clients. Message types form a closed set; handler-owned
// messages sent before initialization are queued and answered once init
// completes, which removes the startup race around early UI requests.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Message is the wire unit of the bus protocol.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into a message of the given type. Marshal
// failures degrade to an empty payload.
func NewMessage(msgType string, data any) Message {
	if data == nil {
		return Message{Type: msgType}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Str("type", msgType).Err(err).Msg("Failed to marshal bus payload")
		return Message{Type: msgType}
	}
	return Message{Type: msgType, Data: raw}
}

// ErrorPayload is the body of every "error" reply.
type ErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NamedError carries an error-taxonomy name across the bus. Handlers wrap
// domain failures so the UI can branch on the name.
type NamedError struct {
	Name string
	Err  error
}

func (e *NamedError) Error() string { return e.Err.Error() }
func (e *NamedError) Unwrap() error { return e.Err }

func errorReply(err error) Message {
	payload := ErrorPayload{Name: "Error", Message: err.Error()}
	var named *NamedError
	if errors.As(err, &named) {
		payload.Name = named.Name
	}
	return NewMessage(TypeError, payload)
}

// Handler answers the message types it declares. The returned payload is
// wrapped into the reply message; a nil payload with a nil error yields no
// reply (fire-and-forget messages).
type Handler interface {
	Types() []string
	Handle(ctx context.Context, msg Message) (reply *Message, err error)
}

// Bus queues, routes, and answers messages.
type Bus struct {
	mu       sync.Mutex
	byType   map[string]Handler
	ready    bool
	disposed bool
	queue    []pending
}

type pending struct {
	msg   Message
	reply func(Message)
}

// New creates an uninitialized bus. Handler-dependent messages queue until
// SetReady is called.
func New() *Bus {
	return &Bus{byType: make(map[string]Handler)}
}

// Register wires a handler for each type it declares. The first handler to
// claim a type owns it.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range h.Types() {
		if !KnownType(t) {
			log.Warn().Str("type", t).Msg("Handler declares a type outside the closed message set")
			continue
		}
		if _, taken := b.byType[t]; taken {
			continue
		}
		b.byType[t] = h
	}
}

// Send routes one message. Replies arrive through the callback, which may
// fire after Send returns when the message was queued pre-init. A nil
// callback discards the reply.
func (b *Bus) Send(ctx context.Context, msg Message, reply func(Message)) {
	if reply == nil {
		reply = func(Message) {}
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	if !b.ready && HandlerDependent(msg.Type) {
		b.queue = append(b.queue, pending{msg: msg, reply: reply})
		queued := len(b.queue)
		b.mu.Unlock()
		log.Debug().Str("type", msg.Type).Int("queued", queued).Msg("Message queued until initialization")
		return
	}
	b.mu.Unlock()

	reply(b.dispatch(ctx, msg))
}

// SetReady marks initialization complete and answers every queued message in
// arrival order.
func (b *Bus) SetReady(ctx context.Context) {
	b.mu.Lock()
	if b.ready || b.disposed {
		b.mu.Unlock()
		return
	}
	b.ready = true
	queued := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, p := range queued {
		p.reply(b.dispatch(ctx, p.msg))
	}
}

// Dispose drops the queue and turns every later Send into a silent no-op.
func (b *Bus) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disposed = true
	b.queue = nil
}

// dispatch answers one message synchronously. Handler failures never cross
// the bus as panics or errors; they become "error" replies.
func (b *Bus) dispatch(ctx context.Context, msg Message) Message {
	switch msg.Type {
	case TypePing:
		return Message{Type: TypePong}
	case TypeInitialize:
		return Message{Type: TypeInitialized}
	}

	if !KnownType(msg.Type) {
		log.Warn().Str("type", msg.Type).Msg("Unknown message type")
		return errorReply(fmt.Errorf("unknown message type %q", msg.Type))
	}

	b.mu.Lock()
	h := b.byType[msg.Type]
	b.mu.Unlock()
	if h == nil {
		log.Warn().Str("type", msg.Type).Msg("No handler registered for message type")
		return errorReply(fmt.Errorf("no handler for message type %q", msg.Type))
	}

	reply, err := b.safeHandle(ctx, h, msg)
	if err != nil {
		log.Warn().Str("type", msg.Type).Err(err).Msg("Handler failed")
		return errorReply(err)
	}
	if reply == nil {
		return Message{}
	}
	return *reply
}

func (b *Bus) safeHandle(ctx context.Context, h Handler, msg Message) (reply *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = fmt.Errorf("handler panic on %s: %v", msg.Type, r)
		}
	}()
	return h.Handle(ctx, msg)
}

// Sender pushes unsolicited messages toward one UI surface. After Dispose
// every Send is a silent no-op, so late events from background work cannot
// hit a torn-down panel.
type Sender struct {
	mu       sync.Mutex
	fn       func(Message)
	disposed bool
}

// NewSender wraps the transport function, which may be nil.
func NewSender(fn func(Message)) *Sender {
	return &Sender{fn: fn}
}

// Send delivers msg unless the sender is disposed or has no transport.
func (s *Sender) Send(msg Message) {
	s.mu.Lock()
	fn := s.fn
	disposed := s.disposed
	s.mu.Unlock()
	if disposed || fn == nil {
		return
	}
	fn(msg)
}

// Dispose detaches the transport.
func (s *Sender) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.fn = nil
}
