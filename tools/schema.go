package tools

import (
	"encoding/json"
	"strings"

	"polychat/model"

	"github.com/anthropics/anthropic-sdk-go"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

func searchSchema() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        string(model.ToolSearch),
		Description: "Search the web. Use for current events, facts you are unsure about, or anything after your knowledge cutoff.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			Required: []string{"query"},
		},
	}
}

func scrapeSchema() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        string(model.ToolURLScrape),
		Description: "Fetch web pages and return their readable text.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"url_list": map[string]any{
					"type":        "array",
					"description": "The URLs to read, in the order the results should be returned",
					"items":       map[string]any{"type": "string"},
				},
			},
			Required: []string{"url_list"},
		},
	}
}

func imageSchema() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        string(model.ToolImageGenerate),
		Description: "Generate images from a text prompt.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "A detailed description of the image",
				},
				"n": map[string]any{
					"type":        "integer",
					"description": "Number of images to generate (1-4)",
				},
			},
			Required: []string{"prompt", "n"},
		},
	}
}

func fileSchema(name model.ToolName, description string) mcptypes.Tool {
	return mcptypes.Tool{
		Name:        string(name),
		Description: description,
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"conversationID": map[string]any{
					"type":        "string",
					"description": "The id of the conversation the files are attached to",
				},
				"fileNames": map[string]any{
					"type":        "array",
					"description": "Names of the attached files",
					"items":       map[string]any{"type": "string"},
				},
			},
			Required: []string{"conversationID", "fileNames"},
		},
	}
}

// OpenAISchemas converts canonical schemas to OpenAI function tools. The same
// format is accepted by OpenRouter.
//
// OpenAI Tool structure:
//
//	{
//	  "type": "function",
//	  "function": {
//	    "name": "googleSearch",
//	    "description": "...",
//	    "parameters": {...}
//	  }
//	}
func OpenAISchemas(tools []mcptypes.Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		params := openai.FunctionParameters{
			"type":       tool.InputSchema.Type,
			"properties": tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}

		result[i] = openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  params,
			},
		)
	}
	return result
}

// AnthropicSchemas converts canonical schemas to Anthropic tool params. Vertex
// hosts of Claude models take the same shape.
func AnthropicSchemas(tools []mcptypes.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		// Type defaults to "object" when omitted
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			inputSchema.Required = tool.InputSchema.Required
		}

		result[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if tool.Description != "" {
			result[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}
	return result
}

// GeminiSchemas converts canonical schemas to a single Gemini tool holding one
// function declaration per entry.
func GeminiSchemas(tools []mcptypes.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(tool.InputSchema.Properties)),
			Required:   tool.InputSchema.Required,
		}
		for name, prop := range tool.InputSchema.Properties {
			params.Properties[name] = geminiProperty(prop)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func geminiProperty(v any) *genai.Schema {
	m := propertyMap(v)
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if items, ok := m["items"]; ok {
		s.Items = geminiProperty(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	return s
}

func geminiType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// OllamaSchemas converts canonical schemas to Ollama API tools.
func OllamaSchemas(tools []mcptypes.Tool) []api.Tool {
	result := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		params := api.ToolFunctionParameters{
			Type:       tool.InputSchema.Type,
			Required:   tool.InputSchema.Required,
			Properties: make(map[string]api.ToolProperty),
		}
		for name, prop := range tool.InputSchema.Properties {
			params.Properties[name] = ollamaProperty(prop)
		}

		result = append(result, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func ollamaProperty(v any) api.ToolProperty {
	m := propertyMap(v)
	prop := api.ToolProperty{}

	switch t := m["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	}
	if d, ok := m["description"].(string); ok {
		prop.Description = d
	}
	if enum, ok := m["enum"].([]any); ok {
		prop.Enum = enum
	}
	if items, ok := m["items"]; ok {
		prop.Items = items
	}
	return prop
}

// propertyMap normalizes a JSON-schema property to a map, round-tripping
// through JSON when it was built from another type.
func propertyMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}
