package testutil

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"polychat/model"
)

// Turn scripts one model response.
type Turn struct {
	Events []model.StreamEvent
	// Err is yielded after Events.
	Err error
	// Delay is slept before each event, honoring cancellation.
	Delay time.Duration
	// Block keeps the stream open after Events until the context is done.
	Block bool
}

// TextTurn is a turn that streams the given deltas.
func TextTurn(deltas ...string) Turn {
	t := Turn{}
	for _, d := range deltas {
		t.Events = append(t.Events, model.StreamEvent{Content: d})
	}
	return t
}

// ToolTurn is a turn that emits one completed tool-call set.
func ToolTurn(calls ...model.ToolCall) Turn {
	return Turn{Events: []model.StreamEvent{{ToolCalls: calls}}}
}

// MockAdapter implements model.ProviderAdapter with scripted turns.
// Each StreamResponse or NonStreamingResponse consumes the next turn; when the
// script runs out a plain "Mock response" is returned.
type MockAdapter struct {
	VendorName model.Vendor
	BuildErr   error

	// Blocked receives once per turn that starts blocking, if non-nil.
	Blocked chan struct{}

	mu        sync.Mutex
	turns     []Turn
	histories [][]model.Message
	configs   []model.GenerationConfig
	streams   int
}

type mockRequest struct {
	vendor model.Vendor
}

func (r *mockRequest) Vendor() model.Vendor { return r.vendor }

// NewMockAdapter creates an adapter that plays turns in order.
func NewMockAdapter(turns ...Turn) *MockAdapter {
	return &MockAdapter{VendorName: model.VendorOpenAI, turns: turns}
}

// Script appends more turns.
func (m *MockAdapter) Script(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

func (m *MockAdapter) Vendor() model.Vendor { return m.VendorName }

func (m *MockAdapter) BuildRequest(history []model.Message, cfg model.GenerationConfig) (model.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BuildErr != nil {
		return nil, m.BuildErr
	}
	snapshot := make([]model.Message, len(history))
	for i, msg := range history {
		snapshot[i] = msg.Clone()
	}
	m.histories = append(m.histories, snapshot)
	m.configs = append(m.configs, cfg.Clone())
	return &mockRequest{vendor: m.VendorName}, nil
}

func (m *MockAdapter) next() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams++
	if len(m.turns) == 0 {
		return TextTurn("Mock response")
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t
}

func (m *MockAdapter) StreamResponse(ctx context.Context, req model.Request) iter.Seq2[model.StreamEvent, error] {
	return func(yield func(model.StreamEvent, error) bool) {
		t := m.next()
		for _, ev := range t.Events {
			if t.Delay > 0 {
				select {
				case <-ctx.Done():
					yield(model.StreamEvent{}, ctx.Err())
					return
				case <-time.After(t.Delay):
				}
			}
			if err := ctx.Err(); err != nil {
				yield(model.StreamEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
		if t.Err != nil {
			yield(model.StreamEvent{}, t.Err)
			return
		}
		if t.Block {
			if m.Blocked != nil {
				m.Blocked <- struct{}{}
			}
			<-ctx.Done()
			yield(model.StreamEvent{}, ctx.Err())
		}
	}
}

func (m *MockAdapter) NonStreamingResponse(ctx context.Context, req model.Request) (model.StreamEvent, error) {
	t := m.next()
	if err := ctx.Err(); err != nil {
		return model.StreamEvent{}, err
	}
	var out model.StreamEvent
	var text strings.Builder
	for _, ev := range t.Events {
		text.WriteString(ev.Content)
		out.ToolCalls = append(out.ToolCalls, ev.ToolCalls...)
	}
	out.Content = text.String()
	return out, t.Err
}

// Histories returns the history passed to each BuildRequest call.
func (m *MockAdapter) Histories() [][]model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]model.Message(nil), m.histories...)
}

// Configs returns the config passed to each BuildRequest call.
func (m *MockAdapter) Configs() []model.GenerationConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.GenerationConfig(nil), m.configs...)
}

// Calls returns how many responses were requested.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams
}
