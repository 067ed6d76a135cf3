package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"polychat/model"
)

type searchResponse struct {
	Items []searchItem `json:"items"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type searchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (r *Registry) search(ctx context.Context, arguments string, _ Env) (Result, error) {
	var args model.SearchArgs
	if err := decodeArgs(model.ToolSearch, arguments, &args); err != nil {
		return argsFailure(model.ToolSearch, err)
	}

	opts := r.opts.Search
	if opts.APIKey == "" || opts.EngineID == "" {
		return Result{Text: "Error: Search is not configured (missing API key or engine id)"}, nil
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return Result{Text: "Error: query is required"}, nil
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolSearch), fmt.Errorf("parse base url: %w", err))
	}
	// Fetch the maximum page so exclusions do not starve the limit.
	q := u.Query()
	q.Set("key", opts.APIKey)
	q.Set("cx", opts.EngineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(maxSearchLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolSearch), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolSearch), fmt.Errorf("search request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolSearch), fmt.Errorf("read response: %w", err))
	}

	var parsed searchResponse
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return Result{Text: fmt.Sprintf("Error: search failed (status %d): %s", resp.StatusCode, msg)}, nil
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, model.NewError(model.ErrToolExecution, string(model.ToolSearch), fmt.Errorf("parse response: %w", err))
	}

	items := filterExcluded(parsed.Items, opts.ExcludedDomains)
	if len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	if len(items) == 0 {
		return Result{Text: fmt.Sprintf("No results found for %q.", query)}, nil
	}

	return Result{Text: formatSearchResults(items)}, nil
}

// filterExcluded drops items whose host is an excluded domain or a subdomain
// of one, keeping the original order.
func filterExcluded(items []searchItem, excluded []string) []searchItem {
	if len(excluded) == 0 {
		return items
	}
	out := make([]searchItem, 0, len(items))
	for _, item := range items {
		if !isExcluded(item.Link, excluded) {
			out = append(out, item)
		}
	}
	return out
}

func isExcluded(link string, excluded []string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	for _, d := range excluded {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func formatSearchResults(items []searchItem) string {
	blocks := make([]string, len(items))
	for i, item := range items {
		blocks[i] = fmt.Sprintf("Title: %s\nLink: %s\nSnippet: %s", item.Title, item.Link, strings.TrimSpace(item.Snippet))
	}
	return strings.Join(blocks, "\n\n")
}
