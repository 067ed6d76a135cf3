package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polychat/model"
)

func newSearchServer(t *testing.T, items []searchItem) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("cx") != "test-cx" {
			t.Errorf("missing credentials in query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Items: items})
	}))
	t.Cleanup(server.Close)
	return server
}

func searchRegistry(baseURL string, limit int, excluded ...string) *Registry {
	return NewRegistry(Options{Search: SearchOptions{
		APIKey:          "test-key",
		EngineID:        "test-cx",
		BaseURL:         baseURL,
		Limit:           limit,
		ExcludedDomains: excluded,
	}})
}

func runSearch(t *testing.T, r *Registry, query string) (Result, error) {
	t.Helper()
	args, _ := json.Marshal(model.SearchArgs{Query: query})
	return r.Execute(context.Background(), model.NewToolCall("c1", model.ToolSearch, string(args)), Env{})
}

func TestSearchExcludesDomainsPreservingOrder(t *testing.T) {
	server := newSearchServer(t, []searchItem{
		{Title: "One", Link: "https://one.example/a", Snippet: "first"},
		{Title: "Two", Link: "https://en.wikipedia.org/wiki/Two", Snippet: "second"},
		{Title: "Three", Link: "https://three.example/c", Snippet: "third"},
		{Title: "Four", Link: "https://four.example/d", Snippet: "fourth"},
		{Title: "Five", Link: "https://five.example/e", Snippet: "fifth"},
	})

	res, err := runSearch(t, searchRegistry(server.URL, 10, "wikipedia.org"), "numbers")
	if err != nil {
		t.Fatal(err)
	}

	blocks := strings.Split(res.Text, "\n\n")
	if len(blocks) != 4 {
		t.Fatalf("expected 4 entries, got %d:\n%s", len(blocks), res.Text)
	}
	for i, title := range []string{"One", "Three", "Four", "Five"} {
		want := "Title: " + title + "\n"
		if !strings.HasPrefix(blocks[i], want) {
			t.Errorf("entry %d = %q, want prefix %q", i, blocks[i], want)
		}
	}
	if strings.Contains(res.Text, "wikipedia") {
		t.Error("excluded domain leaked into results")
	}
}

func TestSearchLimitAppliesAfterExclusion(t *testing.T) {
	server := newSearchServer(t, []searchItem{
		{Title: "A", Link: "https://www.reddit.com/r/a"},
		{Title: "B", Link: "https://b.example"},
		{Title: "C", Link: "https://c.example"},
		{Title: "D", Link: "https://d.example"},
	})

	res, err := runSearch(t, searchRegistry(server.URL, 2, "reddit.com"), "letters")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(res.Text, "Title: "); got != 2 {
		t.Errorf("expected 2 entries, got %d", got)
	}
	if !strings.HasPrefix(res.Text, "Title: B\nLink: https://b.example\nSnippet: ") {
		t.Errorf("unexpected first entry: %q", res.Text)
	}
}

func TestIsExcluded(t *testing.T) {
	tests := []struct {
		link string
		want bool
	}{
		{"https://wikipedia.org/x", true},
		{"https://en.wikipedia.org/x", true},
		{"https://notwikipedia.org/x", false},
		{"https://example.com/wikipedia.org", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		if got := isExcluded(tt.link, []string{"wikipedia.org"}); got != tt.want {
			t.Errorf("isExcluded(%q) = %v, want %v", tt.link, got, tt.want)
		}
	}
}

func TestSearchExpectedFailuresAreText(t *testing.T) {
	empty := newSearchServer(t, nil)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	}))
	defer failing.Close()

	tests := []struct {
		name     string
		registry *Registry
		query    string
		want     string
	}{
		{"missing key", NewRegistry(Options{}), "x", "not configured"},
		{"empty query", searchRegistry(empty.URL, 5), "  ", "query is required"},
		{"no results", searchRegistry(empty.URL, 5), "nothing", "No results found"},
		{"non-200", searchRegistry(failing.URL, 5), "x", "API key not valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := runSearch(t, tt.registry, tt.query)
			if err != nil {
				t.Fatalf("expected text result, got error %v", err)
			}
			if !strings.Contains(res.Text, tt.want) {
				t.Errorf("expected %q in %q", tt.want, res.Text)
			}
		})
	}
}

func TestSearchUnreachableEndpointFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := runSearch(t, searchRegistry(url, 5), "x")
	if !errors.Is(err, model.ErrToolExecution) {
		t.Errorf("expected ErrToolExecution, got %v", err)
	}
}
