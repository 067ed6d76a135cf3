package tools

import (
	"encoding/json"
	"slices"
	"testing"

	"polychat/model"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/genai"
)

// dialectView is the part of a vendor schema that must agree across dialects.
type dialectView struct {
	name       string
	properties []string
	required   []string
	types      map[string]string
}

func catalogSchemas() []mcptypes.Tool {
	return NewRegistry(Options{}).Definitions(model.AllTools())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func canonicalView(tool mcptypes.Tool) dialectView {
	v := dialectView{
		name:       tool.Name,
		properties: sortedKeys(tool.InputSchema.Properties),
		required:   slices.Sorted(slices.Values(tool.InputSchema.Required)),
		types:      map[string]string{},
	}
	for k, p := range tool.InputSchema.Properties {
		v.types[k] = propertyMap(p)["type"].(string)
	}
	return v
}

// jsonSchemaView reads a serialized JSON-schema object of the given shape.
func jsonSchemaView(t *testing.T, name string, schema map[string]any) dialectView {
	t.Helper()
	props, _ := schema["properties"].(map[string]any)
	v := dialectView{name: name, properties: sortedKeys(props), types: map[string]string{}}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			v.required = append(v.required, r.(string))
		}
	}
	slices.Sort(v.required)
	for k, p := range props {
		v.types[k], _ = p.(map[string]any)["type"].(string)
	}
	return v
}

func marshalMap(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func assertSameView(t *testing.T, dialect string, want, got dialectView) {
	t.Helper()
	if got.name != want.name {
		t.Errorf("%s: name %q, want %q", dialect, got.name, want.name)
	}
	if !slices.Equal(got.properties, want.properties) {
		t.Errorf("%s %s: properties %v, want %v", dialect, want.name, got.properties, want.properties)
	}
	if !slices.Equal(got.required, want.required) {
		t.Errorf("%s %s: required %v, want %v", dialect, want.name, got.required, want.required)
	}
	for k, typ := range want.types {
		if got.types[k] != typ {
			t.Errorf("%s %s.%s: type %q, want %q", dialect, want.name, k, got.types[k], typ)
		}
	}
}

func TestOpenAISchemasMatchCanonical(t *testing.T) {
	tools := catalogSchemas()
	converted := OpenAISchemas(tools)
	if len(converted) != len(tools) {
		t.Fatalf("expected %d tools, got %d", len(tools), len(converted))
	}
	for i, tool := range tools {
		m := marshalMap(t, converted[i])
		if m["type"] != "function" {
			t.Errorf("expected type function, got %v", m["type"])
		}
		fn := m["function"].(map[string]any)
		got := jsonSchemaView(t, fn["name"].(string), fn["parameters"].(map[string]any))
		assertSameView(t, "openai", canonicalView(tool), got)
	}
}

func TestAnthropicSchemasMatchCanonical(t *testing.T) {
	tools := catalogSchemas()
	converted := AnthropicSchemas(tools)
	for i, tool := range tools {
		m := marshalMap(t, converted[i])
		got := jsonSchemaView(t, m["name"].(string), m["input_schema"].(map[string]any))
		assertSameView(t, "anthropic", canonicalView(tool), got)
		if m["description"] != tool.Description {
			t.Errorf("anthropic %s: description not carried", tool.Name)
		}
	}
}

func TestGeminiSchemasMatchCanonical(t *testing.T) {
	tools := catalogSchemas()
	converted := GeminiSchemas(tools)
	if len(converted) != 1 {
		t.Fatalf("expected one gemini tool, got %d", len(converted))
	}
	decls := converted[0].FunctionDeclarations
	if len(decls) != len(tools) {
		t.Fatalf("expected %d declarations, got %d", len(tools), len(decls))
	}

	lower := map[genai.Type]string{
		genai.TypeString:  "string",
		genai.TypeInteger: "integer",
		genai.TypeArray:   "array",
	}
	for i, tool := range tools {
		d := decls[i]
		got := dialectView{
			name:       d.Name,
			properties: sortedKeys(d.Parameters.Properties),
			required:   slices.Sorted(slices.Values(d.Parameters.Required)),
			types:      map[string]string{},
		}
		for k, s := range d.Parameters.Properties {
			got.types[k] = lower[s.Type]
		}
		assertSameView(t, "gemini", canonicalView(tool), got)
	}

	files := decls[len(decls)-1].Parameters.Properties["fileNames"]
	if files.Items == nil || files.Items.Type != genai.TypeString {
		t.Error("gemini array property lost its item type")
	}
}

func TestOllamaSchemasMatchCanonical(t *testing.T) {
	tools := catalogSchemas()
	converted := OllamaSchemas(tools)
	for i, tool := range tools {
		fn := converted[i].Function
		got := dialectView{
			name:       fn.Name,
			properties: sortedKeys(fn.Parameters.Properties),
			required:   slices.Sorted(slices.Values(fn.Parameters.Required)),
			types:      map[string]string{},
		}
		for k, p := range fn.Parameters.Properties {
			if len(p.Type) > 0 {
				got.types[k] = p.Type[0]
			}
		}
		assertSameView(t, "ollama", canonicalView(tool), got)
	}
}

func TestEmptySchemaConversions(t *testing.T) {
	if OpenAISchemas(nil) != nil {
		t.Error("openai: expected nil")
	}
	if AnthropicSchemas(nil) != nil {
		t.Error("anthropic: expected nil")
	}
	if GeminiSchemas(nil) != nil {
		t.Error("gemini: expected nil")
	}
	if len(OllamaSchemas(nil)) != 0 {
		t.Error("ollama: expected empty")
	}
}
