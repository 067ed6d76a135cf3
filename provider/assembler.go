package provider

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"polychat/model"
)

// toolCallAssembler buffers tool calls whose arguments arrive as fragments,
// keyed by the vendor's call (or content block) index. Nothing leaves the
// assembler until a call is complete.
type toolCallAssembler struct {
	builders map[int]*toolCallBuilder
}

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

func (b *toolCallBuilder) append(id, name, fragment string) {
	if id != "" {
		b.id = id
	}
	if name != "" {
		b.name = name
	}
	b.args.WriteString(fragment)
}

func (b *toolCallBuilder) finalize() (model.ToolCall, error) {
	if b.name == "" {
		return model.ToolCall{}, fmt.Errorf("tool call %q has no function name", b.id)
	}
	raw := strings.TrimSpace(b.args.String())
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		return model.ToolCall{}, fmt.Errorf("tool call %s: arguments are not valid JSON: %q", b.name, raw)
	}
	return model.NewToolCall(b.id, model.ToolName(b.name), raw), nil
}

// add appends a fragment for index. id and name may be empty on all but the
// first fragment.
func (a *toolCallAssembler) add(index int, id, name, fragment string) {
	if a.builders == nil {
		a.builders = map[int]*toolCallBuilder{}
	}
	b, ok := a.builders[index]
	if !ok {
		b = &toolCallBuilder{}
		a.builders[index] = b
	}
	b.append(id, name, fragment)
}

func (a *toolCallAssembler) has(index int) bool {
	_, ok := a.builders[index]
	return ok
}

func (a *toolCallAssembler) pending() bool {
	return len(a.builders) > 0
}

// finish completes the call at index and forgets it.
func (a *toolCallAssembler) finish(index int) (model.ToolCall, error) {
	b, ok := a.builders[index]
	if !ok {
		return model.ToolCall{}, fmt.Errorf("no tool call at index %d", index)
	}
	delete(a.builders, index)
	return b.finalize()
}

// flush completes every buffered call in index order.
func (a *toolCallAssembler) flush() ([]model.ToolCall, error) {
	indexes := make([]int, 0, len(a.builders))
	for i := range a.builders {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	calls := make([]model.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		call, err := a.finish(i)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, nil
}
