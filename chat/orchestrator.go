package chat

import (
	"context"
	"errors"
	"strings"

	"polychat/config"
	"polychat/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("polychat/chat")

// TurnState is where a turn ended up.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnStreaming
	TurnCompleted
	TurnToolCallsPending
	TurnFailed
	TurnCancelled
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnStreaming:
		return "streaming"
	case TurnCompleted:
		return "completed"
	case TurnToolCallsPending:
		return "tool_calls_pending"
	case TurnFailed:
		return "failed"
	case TurnCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TurnResult reports how a turn finished.
type TurnResult struct {
	State     TurnState
	MessageID string
	ToolCalls []model.ToolCall
	Err       error
}

// Orchestrator runs single generation turns.
type Orchestrator struct {
	Throttle Throttle
}

// NewOrchestrator creates an orchestrator with the given flush policy.
func NewOrchestrator(throttle Throttle) *Orchestrator {
	return &Orchestrator{Throttle: throttle}
}

// Run fills the assistant message messageID with one model response.
//
// The context sent to the adapter is everything in t before messageID. Text is
// published into the message at the throttle's pace, and tool calls are only
// attached once the stream has ended. On cancellation or failure an empty
// message is removed; partial text is kept.
func (o *Orchestrator) Run(ctx context.Context, adapter model.ProviderAdapter, t *Transcript, messageID string, cfg model.GenerationConfig) TurnResult {
	ctx, span := tracer.Start(ctx, "chat.turn")
	span.SetAttributes(
		attribute.String("llm.provider", string(adapter.Vendor())),
		attribute.String("llm.model", cfg.Model),
		attribute.Bool("llm.stream", cfg.Stream),
	)
	defer span.End()

	t.Update(messageID, func(m *model.Message) { m.IsReplying = true })

	history := t.ContextBefore(messageID)
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] Turn %s: %d context messages, model=%s stream=%v", messageID, len(history), cfg.Model, cfg.Stream)
	}

	req, err := adapter.BuildRequest(history, cfg)
	if err != nil {
		res := o.fail(t, messageID, "", err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}

	var res TurnResult
	if cfg.Stream {
		res = o.stream(ctx, adapter, req, t, messageID)
	} else {
		res = o.once(ctx, adapter, req, t, messageID)
	}

	span.SetAttributes(attribute.String("chat.turn_state", res.State.String()))
	if res.State == TurnFailed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] Turn %s ended: %s", messageID, res.State)
	}
	return res
}

func (o *Orchestrator) stream(ctx context.Context, adapter model.ProviderAdapter, req model.Request, t *Transcript, messageID string) TurnResult {
	gate := o.Throttle.start()

	var acc strings.Builder
	var flushed int
	var pending []model.ToolCall

	flush := func() {
		if acc.Len() == flushed {
			return
		}
		text := acc.String()
		flushed = len(text)
		t.Update(messageID, func(m *model.Message) { m.Content = text })
	}

	var streamErr error
	for ev, err := range adapter.StreamResponse(ctx, req) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if ev.Content != "" {
			acc.WriteString(ev.Content)
			if gate.due() {
				flush()
			}
		}
		pending = append(pending, ev.ToolCalls...)
	}

	if ctx.Err() != nil || errors.Is(streamErr, context.Canceled) {
		return o.cancel(t, messageID, acc.String())
	}
	if streamErr != nil {
		return o.fail(t, messageID, acc.String(), streamErr)
	}

	if acc.Len() > flushed {
		if err := gate.wait(ctx); err != nil {
			return o.cancel(t, messageID, acc.String())
		}
		flush()
	}
	return o.finish(t, messageID, acc.String(), pending)
}

func (o *Orchestrator) once(ctx context.Context, adapter model.ProviderAdapter, req model.Request, t *Transcript, messageID string) TurnResult {
	ev, err := adapter.NonStreamingResponse(ctx, req)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return o.cancel(t, messageID, "")
	}
	if err != nil {
		return o.fail(t, messageID, "", err)
	}
	return o.finish(t, messageID, ev.Content, ev.ToolCalls)
}

func (o *Orchestrator) finish(t *Transcript, messageID, content string, calls []model.ToolCall) TurnResult {
	t.Update(messageID, func(m *model.Message) {
		m.Content = content
		m.ToolCalls = calls
		m.IsReplying = false
	})
	if len(calls) > 0 {
		return TurnResult{State: TurnToolCallsPending, MessageID: messageID, ToolCalls: calls}
	}
	return TurnResult{State: TurnCompleted, MessageID: messageID}
}

func (o *Orchestrator) cancel(t *Transcript, messageID, content string) TurnResult {
	if content == "" {
		t.Remove(messageID)
		return TurnResult{State: TurnCancelled}
	}
	t.Update(messageID, func(m *model.Message) {
		m.Content = content
		m.IsReplying = false
	})
	return TurnResult{State: TurnCancelled, MessageID: messageID}
}

func (o *Orchestrator) fail(t *Transcript, messageID, content string, err error) TurnResult {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Orchestrator] Turn %s failed: %v", messageID, err)
	}
	if content == "" {
		t.Remove(messageID)
		return TurnResult{State: TurnFailed, Err: err}
	}
	t.Update(messageID, func(m *model.Message) {
		m.Content = content
		m.IsReplying = false
	})
	return TurnResult{State: TurnFailed, MessageID: messageID, Err: err}
}
