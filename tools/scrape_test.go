package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"polychat/model"
)

const articlePage = `<!DOCTYPE html>
<html>
<head><title>Cats Explained</title><script>var tracking = 1;</script></head>
<body>
<nav><a href="/">Home</a> | <a href="/about">About</a></nav>
<article><h1>Cats</h1><p>Cats are <strong>small</strong> carnivores.</p></article>
<footer>Copyright footer text</footer>
</body>
</html>`

func scrapeArgs(urls ...string) string {
	b, _ := json.Marshal(model.ScrapeArgs{URLList: urls})
	return string(b)
}

func TestScrapeExtractsReadableContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	}))
	defer server.Close()

	r := NewRegistry(Options{})
	res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolURLScrape, scrapeArgs(server.URL)), Env{})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"URL: " + server.URL, "Title: Cats Explained", "**small**"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("expected %q in:\n%s", want, res.Text)
		}
	}
	for _, unwanted := range []string{"tracking", "About", "Copyright footer"} {
		if strings.Contains(res.Text, unwanted) {
			t.Errorf("boilerplate %q leaked into:\n%s", unwanted, res.Text)
		}
	}
}

func TestScrapeKeepsInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The first page is the slowest to answer.
		if r.URL.Path == "/slow" {
			time.Sleep(50 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><head><title>%s</title></head><body><p>%s body</p></body></html>", r.URL.Path, r.URL.Path)
	}))
	defer server.Close()

	r := NewRegistry(Options{})
	args := scrapeArgs(server.URL+"/slow", server.URL+"/fast", server.URL+"/missing")
	res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolURLScrape, args), Env{})
	if err != nil {
		t.Fatal(err)
	}

	slow := strings.Index(res.Text, "/slow body")
	fast := strings.Index(res.Text, "/fast body")
	missing := strings.Index(res.Text, "/missing body")
	if slow < 0 || fast < 0 || missing < 0 {
		t.Fatalf("missing page content:\n%s", res.Text)
	}
	if !(slow < fast && fast < missing) {
		t.Errorf("pages out of input order:\n%s", res.Text)
	}
}

func TestScrapePageFailureIsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	r := NewRegistry(Options{})
	res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolURLScrape, scrapeArgs(server.URL)), Env{})
	if err != nil {
		t.Fatalf("page failure should not abort: %v", err)
	}
	if !strings.Contains(res.Text, "HTTP status 410") {
		t.Errorf("unexpected text: %q", res.Text)
	}
}

func TestScrapeHardTruncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", strings.Repeat("é", 5000))
	}))
	defer server.Close()

	r := NewRegistry(Options{Scrape: ScrapeOptions{MaxChars: 300}})
	res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolURLScrape, scrapeArgs(server.URL, server.URL)), Env{})
	if err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(res.Text); n != 300 {
		t.Errorf("expected exactly 300 characters, got %d", n)
	}
	if !utf8.ValidString(res.Text) {
		t.Error("truncation split a multi-byte character")
	}
}

func TestScrapeEmptyList(t *testing.T) {
	r := NewRegistry(Options{})
	res, err := r.Execute(context.Background(), model.NewToolCall("c1", model.ToolURLScrape, `{"url_list": []}`), Env{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "at least one URL") {
		t.Errorf("unexpected text: %q", res.Text)
	}
}
