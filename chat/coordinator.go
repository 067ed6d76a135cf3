package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"polychat/config"
	"polychat/model"
	"polychat/tools"
)

// ToolCancelledText is written into a tool message whose execution was
// interrupted by the user.
const ToolCancelledText = "Tool execution cancelled"

// ToolExecutor runs one tool call. *tools.Registry satisfies it.
type ToolExecutor interface {
	Execute(ctx context.Context, call model.ToolCall, env tools.Env) (tools.Result, error)
}

// Coordinator runs a full reply: a turn, the tools it asks for, and the
// follow-up turns until the model answers in plain text.
type Coordinator struct {
	Orchestrator *Orchestrator
	Tools        ToolExecutor

	// MaxToolRounds bounds how many tool batches one reply may run. Once it
	// is reached the next turn is sent without tools. 0 means unbounded.
	MaxToolRounds int
}

// NewCoordinator creates a coordinator.
func NewCoordinator(orchestrator *Orchestrator, executor ToolExecutor, maxToolRounds int) *Coordinator {
	if orchestrator == nil {
		orchestrator = NewOrchestrator(DefaultThrottle())
	}
	return &Coordinator{Orchestrator: orchestrator, Tools: executor, MaxToolRounds: maxToolRounds}
}

// Run appends a new assistant message to t and drives it, and any tool
// follow-ups, to completion.
func (c *Coordinator) Run(ctx context.Context, adapter model.ProviderAdapter, t *Transcript, cfg model.GenerationConfig, env tools.Env) TurnResult {
	rounds := 0
	for {
		reply := model.NewMessage(model.RoleAssistant, "")
		reply.IsReplying = true
		t.Append(reply)

		res := c.Orchestrator.Run(ctx, adapter, t, reply.ID, cfg)
		if res.State != TurnToolCallsPending {
			return res
		}

		if c.MaxToolRounds > 0 && rounds >= c.MaxToolRounds {
			// Tools were already withheld for this turn and the model still
			// asked for them.
			t.ClearReplying()
			return TurnResult{State: TurnFailed, MessageID: res.MessageID, Err: fmt.Errorf("%w (%d rounds)", model.ErrToolRounds, c.MaxToolRounds)}
		}
		rounds++

		batch := c.executeBatch(ctx, t, res.ToolCalls, env)
		switch {
		case batch.state == TurnCancelled:
			t.ClearReplying()
			return TurnResult{State: TurnCancelled, MessageID: res.MessageID}
		case batch.err != nil:
			t.ClearReplying()
			return TurnResult{State: TurnFailed, MessageID: batch.messageID, Err: batch.err}
		case batch.imagesOnly || len(batch.images) > 0:
			final := model.NewMessage(model.RoleAssistant, strings.Join(batch.imageText, "\n\n"))
			final.Attachments = batch.images
			t.Append(final)
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Coordinator] Image results attached directly, %d images", len(batch.images))
			}
			return TurnResult{State: TurnCompleted, MessageID: final.ID}
		}

		if c.MaxToolRounds > 0 && rounds >= c.MaxToolRounds {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Coordinator] Max tool rounds (%d) reached, disabling tools", c.MaxToolRounds)
			}
			cfg = cfg.WithTools()
		}
	}
}

type batchOutcome struct {
	state      TurnState
	messageID  string
	err        error
	images     []model.Attachment
	imageText  []string
	imagesOnly bool
}

// executeBatch runs calls one after another in emission order, each into its
// own tool message.
func (c *Coordinator) executeBatch(ctx context.Context, t *Transcript, calls []model.ToolCall, env tools.Env) batchOutcome {
	out := batchOutcome{imagesOnly: true}

	for i, call := range calls {
		if call.Tool != model.ToolImageGenerate {
			out.imagesOnly = false
		}
		if ctx.Err() != nil {
			out.state = TurnCancelled
			return out
		}

		msg := model.NewToolMessage(call)
		msg.IsReplying = true
		t.Append(msg)

		if config.DebugLog != nil {
			config.DebugLog.Printf("[Coordinator] Executing tool call %d/%d: %s", i+1, len(calls), call.Tool)
		}

		res, err := c.Tools.Execute(ctx, call, env)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				setToolText(t, msg.ID, ToolCancelledText)
				out.state = TurnCancelled
				return out
			}
			if model.Kind(err) == nil {
				err = model.NewError(model.ErrToolExecution, string(call.Tool), err)
			}
			setToolText(t, msg.ID, fmt.Sprintf("Error: %v", err))
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Coordinator] Tool %s failed, aborting %d remaining calls: %v", call.Tool, len(calls)-i-1, err)
			}
			out.state = TurnFailed
			out.messageID = msg.ID
			out.err = err
			return out
		}

		t.Update(msg.ID, func(m *model.Message) {
			m.Content = res.Text
			m.ToolResult.Content = res.Text
			m.ToolResult.Attachments = res.Attachments
			m.IsReplying = false
		})

		if call.Tool == model.ToolImageGenerate {
			out.images = append(out.images, res.Attachments...)
			if res.Text != "" {
				out.imageText = append(out.imageText, res.Text)
			}
		}
	}
	return out
}

func setToolText(t *Transcript, id, text string) {
	t.Update(id, func(m *model.Message) {
		m.Content = text
		m.ToolResult.Content = text
		m.IsReplying = false
	})
}
