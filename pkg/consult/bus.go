// Package consult implements the advisory question channel between stages.
// Consultations are best-effort: a slow or broken responder yields a static
// fallback answer, never a pipeline failure.
package consult

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"patchsmith/pkg/logx"
	"patchsmith/pkg/proto"
)

// Responder answers consultations addressed to one stage.
type Responder func(ctx context.Context, c proto.Consultation) (string, error)

// Record pairs a consultation with its outcome in the bus history.
type Record struct {
	Consultation proto.Consultation `json:"consultation"`
	Answer       proto.Answer       `json:"answer"`
	At           time.Time          `json:"at"`
}

// Bus routes consultations to registered stage responders under a hard
// timeout. History is append-only and never trimmed within a run.
type Bus struct {
	timeout time.Duration
	logger  *logx.Logger

	mu         sync.Mutex
	responders map[string]Responder
	history    []Record
	fallbacks  map[string]string
}

// NewBus creates a consultation bus with the given per-request timeout.
func NewBus(timeout time.Duration) *Bus {
	return &Bus{
		timeout:    timeout,
		logger:     logx.NewLogger("consult"),
		responders: make(map[string]Responder),
		fallbacks:  defaultFallbacks(),
	}
}

// defaultFallbacks maps consultation kinds to the static answer used when a
// responder times out, errors, or does not exist.
func defaultFallbacks() map[string]string {
	return map[string]string{
		"naming":     "use a short, descriptive lower-case name consistent with the existing files",
		"style":      "match the dominant style already present in the project files",
		"dependency": "prefer what the project already uses; do not add new dependencies",
		"scope":      "make the smallest change that satisfies the request",
	}
}

// RegisterResponder installs the responder for a stage, replacing any prior one.
func (b *Bus) RegisterResponder(stage string, r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[stage] = r
}

// SetFallback overrides the static answer for a consultation kind.
func (b *Bus) SetFallback(kind, answer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallbacks[kind] = answer
}

// Ask routes a consultation to its target stage and waits for an answer
// under the bus timeout. It never returns an error: failure degrades to the
// kind's fallback answer with the cause recorded.
func (b *Bus) Ask(ctx context.Context, c proto.Consultation) proto.Answer {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	answer := b.ask(ctx, c)
	b.mu.Lock()
	b.history = append(b.history, Record{Consultation: c, Answer: answer, At: time.Now()})
	b.mu.Unlock()
	return answer
}

func (b *Bus) ask(ctx context.Context, c proto.Consultation) proto.Answer {
	b.mu.Lock()
	responder, ok := b.responders[c.ToStage]
	b.mu.Unlock()
	if !ok {
		return b.fallback(c, fmt.Errorf("no responder registered for stage %q", c.ToStage))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("responder panicked: %v", r)}
			}
		}()
		text, err := responder(ctx, c)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return b.fallback(c, r.err)
		}
		return proto.Answer{Text: r.text}
	case <-ctx.Done():
		return b.fallback(c, fmt.Errorf("consultation timed out after %s", b.timeout))
	}
}

func (b *Bus) fallback(c proto.Consultation, cause error) proto.Answer {
	b.logger.Warn("consultation %s (%s -> %s, kind %s) fell back: %v", c.ID, c.FromStage, c.ToStage, c.Kind, cause)

	b.mu.Lock()
	text, ok := b.fallbacks[c.Kind]
	b.mu.Unlock()
	if !ok {
		text = "no guidance available; proceed with your best judgement"
	}
	return proto.Answer{Text: text, Fallback: true, Err: cause.Error()}
}

// History returns a copy of all consultations seen so far, in order.
func (b *Bus) History() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.history))
	copy(out, b.history)
	return out
}
