package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"polychat/config"
	"polychat/model"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

const maxPageBytes = 5 << 20

type page struct {
	URL     string
	Title   string
	Content string
	Err     error
}

func (r *Registry) scrape(ctx context.Context, arguments string, _ Env) (Result, error) {
	var args model.ScrapeArgs
	if err := decodeArgs(model.ToolURLScrape, arguments, &args); err != nil {
		return argsFailure(model.ToolURLScrape, err)
	}

	var urls []string
	for _, u := range args.URLList {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return Result{Text: "Error: url_list must contain at least one URL"}, nil
	}

	pages := make([]page, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Scrape.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			pages[i] = r.fetchPage(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	blocks := make([]string, len(pages))
	for i, p := range pages {
		if p.Err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Tools] scrape %s: %v", p.URL, p.Err)
			}
			blocks[i] = fmt.Sprintf("URL: %s\nError: %v", p.URL, p.Err)
			continue
		}
		blocks[i] = fmt.Sprintf("URL: %s\nTitle: %s\nContent:\n%s", p.URL, p.Title, p.Content)
	}

	return Result{Text: truncateChars(strings.Join(blocks, "\n\n---\n\n"), r.opts.Scrape.MaxChars)}, nil
}

func (r *Registry) fetchPage(ctx context.Context, rawURL string) page {
	p := page{URL: rawURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		p.Err = fmt.Errorf("invalid URL: %w", err)
		return p
	}
	req.Header.Set("User-Agent", r.opts.Scrape.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		p.Err = fmt.Errorf("fetch failed: %w", err)
		return p
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.Err = fmt.Errorf("HTTP status %d", resp.StatusCode)
		return p
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		p.Err = fmt.Errorf("read body: %w", err)
		return p
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype != "" && !strings.Contains(ctype, "html") {
		p.Content = strings.TrimSpace(string(body))
		return p
	}

	p.Title, p.Content, p.Err = readableMarkdown(body)
	return p
}

// readableMarkdown extracts the page title and converts the main content
// region to markdown, dropping scripts, navigation and page chrome.
func readableMarkdown(body []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(textOf(findFirst(doc, atom.Title)))

	root := findFirst(doc, atom.Article)
	if root == nil {
		root = findFirst(doc, atom.Main)
	}
	if root == nil {
		root = findFirst(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}
	stripBoilerplate(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return title, "", fmt.Errorf("render html: %w", err)
	}
	md, err := htmltomarkdown.ConvertString(buf.String())
	if err != nil {
		return title, "", fmt.Errorf("convert to markdown: %w", err)
	}
	return title, strings.TrimSpace(md), nil
}

var boilerplate = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
}

func stripBoilerplate(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && boilerplate[c.DataAtom] {
			n.RemoveChild(c)
		} else if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			stripBoilerplate(c)
		}
		c = next
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// truncateChars cuts s to at most limit runes.
func truncateChars(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
