package consult

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsmith/pkg/proto"
)

func TestBusRoutesToResponder(t *testing.T) {
	bus := NewBus(time.Second)
	bus.RegisterResponder("planner", func(_ context.Context, c proto.Consultation) (string, error) {
		return "call it config.js", nil
	})

	answer := bus.Ask(context.Background(), proto.Consultation{
		FromStage: "coder", ToStage: "planner", Kind: "naming", Question: "what should I call the config file?",
	})

	assert.Equal(t, "call it config.js", answer.Text)
	assert.False(t, answer.Fallback)
	assert.Empty(t, answer.Err)
}

func TestBusTimeoutFallsBack(t *testing.T) {
	bus := NewBus(50 * time.Millisecond)
	bus.RegisterResponder("planner", func(ctx context.Context, _ proto.Consultation) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	answer := bus.Ask(context.Background(), proto.Consultation{
		ToStage: "planner", Kind: "naming", Question: "q",
	})

	assert.True(t, answer.Fallback)
	assert.NotEmpty(t, answer.Text, "fallback answers carry usable text")
	assert.NotEmpty(t, answer.Err)
}

func TestBusResponderErrorFallsBack(t *testing.T) {
	bus := NewBus(time.Second)
	bus.RegisterResponder("critic", func(_ context.Context, _ proto.Consultation) (string, error) {
		return "", errors.New("no opinion")
	})

	answer := bus.Ask(context.Background(), proto.Consultation{ToStage: "critic", Kind: "style"})
	assert.True(t, answer.Fallback)
	assert.Contains(t, answer.Err, "no opinion")
}

func TestBusResponderPanicFallsBack(t *testing.T) {
	bus := NewBus(time.Second)
	bus.RegisterResponder("planner", func(_ context.Context, _ proto.Consultation) (string, error) {
		panic("boom")
	})

	answer := bus.Ask(context.Background(), proto.Consultation{ToStage: "planner", Kind: "scope"})
	assert.True(t, answer.Fallback)
}

func TestBusMissingResponderFallsBack(t *testing.T) {
	bus := NewBus(time.Second)
	answer := bus.Ask(context.Background(), proto.Consultation{ToStage: "nobody", Kind: "dependency"})
	assert.True(t, answer.Fallback)
	assert.Contains(t, answer.Text, "prefer what the project already uses")
}

func TestBusUnknownKindStillAnswers(t *testing.T) {
	bus := NewBus(time.Second)
	answer := bus.Ask(context.Background(), proto.Consultation{ToStage: "nobody", Kind: "weather"})
	assert.True(t, answer.Fallback)
	assert.NotEmpty(t, answer.Text)
}

func TestBusSetFallbackOverrides(t *testing.T) {
	bus := NewBus(time.Second)
	bus.SetFallback("purpose", "do the obvious thing")
	answer := bus.Ask(context.Background(), proto.Consultation{ToStage: "nobody", Kind: "purpose"})
	assert.Equal(t, "do the obvious thing", answer.Text)
}

func TestBusHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	bus := NewBus(time.Second)
	bus.RegisterResponder("planner", func(_ context.Context, c proto.Consultation) (string, error) {
		return "answer to " + c.Question, nil
	})

	questions := []string{"q1", "q2", "q3"}
	for _, q := range questions {
		bus.Ask(context.Background(), proto.Consultation{ToStage: "planner", Kind: "naming", Question: q})
	}
	// One that falls back must be recorded too.
	bus.Ask(context.Background(), proto.Consultation{ToStage: "nobody", Kind: "naming", Question: "q4"})

	history := bus.History()
	require.Len(t, history, 4)
	for i, q := range questions {
		assert.Equal(t, q, history[i].Consultation.Question)
		assert.False(t, history[i].Answer.Fallback)
	}
	assert.True(t, history[3].Answer.Fallback)
	assert.NotEmpty(t, history[0].Consultation.ID, "consultations are assigned IDs")
}
