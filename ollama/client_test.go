package ollama

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelSupportsToolCalling(t *testing.T) {
	tests := []struct {
		model    string
		expected bool
	}{
		{"llama3.1:8b", true},
		{"llama3.2", true},
		{"Llama3.3:70b", true},
		{"llama3:latest", false},
		{"llama3-gradient", false},
		{"codellama:7b", false},
		{"qwen2.5-coder", true},
		{"gpt-oss:20b", true},
		{"gemma2", false},
		{"some-new-model", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := ModelSupportsToolCalling(tt.model); got != tt.expected {
				t.Errorf("ModelSupportsToolCalling(%q) = %v, want %v", tt.model, got, tt.expected)
			}
		})
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"name":"llama3.1:8b"},{"name":"qwen2.5:7b"}]}`)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	names, err := client.ListModels(t.Context())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 || names[0] != "llama3.1:8b" {
		t.Errorf("names = %v", names)
	}
	if err := client.Ping(t.Context()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNewClientDefaultsHost(t *testing.T) {
	c, err := NewClient("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != DefaultHost {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
