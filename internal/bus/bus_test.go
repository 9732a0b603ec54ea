package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedHandler answers its declared types with a fixed payload.
type scriptedHandler struct {
	types   []string
	payload any
	err     error
	panics  bool
	calls   int
}

func (h *scriptedHandler) Types() []string { return h.types }

func (h *scriptedHandler) Handle(_ context.Context, msg Message) (*Message, error) {
	h.calls++
	if h.panics {
		panic("handler exploded")
	}
	if h.err != nil {
		return nil, h.err
	}
	reply := NewMessage(TypeProviders, h.payload)
	return &reply, nil
}

func send(t *testing.T, b *Bus, msg Message) Message {
	t.Helper()
	var got Message
	b.Send(context.Background(), msg, func(m Message) { got = m })
	return got
}

func TestQueuedBeforeInitAnsweredAfter(t *testing.T) {
	b := New()
	h := &scriptedHandler{types: []string{TypeGetProviders}, payload: []string{"ollama", "anthropic"}}
	b.Register(h)

	var replies []Message
	b.Send(context.Background(), Message{Type: TypeGetProviders}, func(m Message) {
		replies = append(replies, m)
	})

	// Not answered and not rejected while initialization is pending.
	assert.Empty(t, replies)
	assert.Equal(t, 0, h.calls)

	b.SetReady(context.Background())
	require.Len(t, replies, 1)
	assert.Equal(t, TypeProviders, replies[0].Type)

	var providers []string
	require.NoError(t, json.Unmarshal(replies[0].Data, &providers))
	assert.Equal(t, []string{"ollama", "anthropic"}, providers)
}

func TestUnknownTypeRejectedEvenBeforeInit(t *testing.T) {
	b := New()

	got := send(t, b, Message{Type: "definitelyNotAThing"})
	require.Equal(t, TypeError, got.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Contains(t, payload.Message, "unknown message type")
}

func TestPingAnsweredWithoutHandlers(t *testing.T) {
	b := New()
	got := send(t, b, Message{Type: TypePing})
	assert.Equal(t, TypePong, got.Type)
}

func TestFirstRegisteredHandlerOwnsType(t *testing.T) {
	b := New()
	first := &scriptedHandler{types: []string{TypeGetProviders}, payload: "first"}
	second := &scriptedHandler{types: []string{TypeGetProviders}, payload: "second"}
	b.Register(first)
	b.Register(second)
	b.SetReady(context.Background())

	send(t, b, Message{Type: TypeGetProviders})
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestHandlerErrorBecomesErrorReply(t *testing.T) {
	b := New()
	b.Register(&scriptedHandler{
		types: []string{TypeClearHistory},
		err:   &NamedError{Name: "QuotaError", Err: errors.New("saved prompt limit reached")},
	})
	b.SetReady(context.Background())

	got := send(t, b, Message{Type: TypeClearHistory})
	require.Equal(t, TypeError, got.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Equal(t, "QuotaError", payload.Name)
	assert.Equal(t, "saved prompt limit reached", payload.Message)
}

func TestHandlerPanicIsConfined(t *testing.T) {
	b := New()
	b.Register(&scriptedHandler{types: []string{TypeAnalyzePrompt}, panics: true})
	b.SetReady(context.Background())

	got := send(t, b, Message{Type: TypeAnalyzePrompt})
	require.Equal(t, TypeError, got.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Contains(t, payload.Message, "handler panic")
}

func TestUnhandledKnownTypeGetsErrorReply(t *testing.T) {
	b := New()
	b.SetReady(context.Background())

	got := send(t, b, Message{Type: TypeGetSessions})
	assert.Equal(t, TypeError, got.Type)
}

func TestDisposedBusDropsMessages(t *testing.T) {
	b := New()
	b.Register(&scriptedHandler{types: []string{TypeGetProviders}})
	b.SetReady(context.Background())
	b.Dispose()

	called := false
	b.Send(context.Background(), Message{Type: TypeGetProviders}, func(Message) { called = true })
	assert.False(t, called)
}

func TestWhitelistCoversHandlerTypes(t *testing.T) {
	// The init-race fix depends on every handler-owned type being queued.
	assert.GreaterOrEqual(t, len(handlerDependent), 70)
	for tt := range handlerDependent {
		assert.True(t, KnownType(tt), tt)
	}
	assert.True(t, HandlerDependent(TypeGetCoachingStatus))
	assert.False(t, HandlerDependent(TypePing))
}

func TestSenderIsNullSafeAfterDispose(t *testing.T) {
	var delivered []Message
	s := NewSender(func(m Message) { delivered = append(delivered, m) })

	s.Send(Message{Type: TypeSyncProgress})
	require.Len(t, delivered, 1)

	s.Dispose()
	s.Send(Message{Type: TypeSyncCompleted})
	assert.Len(t, delivered, 1)

	// A sender constructed with no transport never panics.
	NewSender(nil).Send(Message{Type: TypePing})
}
