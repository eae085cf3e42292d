package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formicaio/formicaiod/internal/types"
)

type recordingHandler struct {
	id       string
	handles  []EventType
	priority int
	fail     bool
	seen     []*Event
	order    *[]string
}

func (h *recordingHandler) ID() string           { return h.id }
func (h *recordingHandler) Handles() []EventType { return h.handles }
func (h *recordingHandler) Priority() int        { return h.priority }

func (h *recordingHandler) Handle(_ context.Context, e *Event) error {
	h.seen = append(h.seen, e)
	if h.order != nil {
		*h.order = append(*h.order, h.id)
	}
	if h.fail {
		return fmt.Errorf("boom")
	}
	return nil
}

func TestDispatchByTypeAndPriority(t *testing.T) {
	bus := New(slog.Default())
	var order []string

	first := &recordingHandler{id: "first", handles: []EventType{EventNodeStarted}, priority: 1, order: &order}
	second := &recordingHandler{id: "second", handles: []EventType{EventNodeStarted}, priority: 5, order: &order}
	other := &recordingHandler{id: "other", handles: []EventType{EventBatchQueued}, order: &order}
	bus.Register(second)
	bus.Register(first)
	bus.Register(other)

	err := bus.Dispatch(context.Background(),
		NewEvent(EventNodeStarted).WithNode(types.NewNodeID(), types.Active()))
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Empty(t, other.seen)
}

func TestHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New(slog.Default())
	failing := &recordingHandler{id: "failing", handles: []EventType{EventNodeStopped}, priority: 0, fail: true}
	after := &recordingHandler{id: "after", handles: []EventType{EventNodeStopped}, priority: 1}
	bus.Register(failing)
	bus.Register(after)

	err := bus.Dispatch(context.Background(), NewEvent(EventNodeStopped))
	require.NoError(t, err)
	assert.Len(t, after.seen, 1)
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	bus := New(slog.Default())
	ch, cancel := bus.Subscribe()

	e := NewEvent(EventNodeCreated)
	require.NoError(t, bus.Dispatch(context.Background(), e))

	got := <-ch
	assert.Equal(t, EventNodeCreated, got.Type)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// dispatch after cancel must not panic or block
	require.NoError(t, bus.Dispatch(context.Background(), NewEvent(EventNodeCreated)))
}

func TestNilEventRejected(t *testing.T) {
	bus := New(slog.Default())
	assert.Error(t, bus.Dispatch(context.Background(), nil))
}
