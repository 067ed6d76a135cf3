package tools

import (
	"net/http"

	"polychat/model"
)

// Options configures the executors. The zero value is usable: every numeric
// limit falls back to its default.
type Options struct {
	HTTPClient *http.Client

	Search       SearchOptions
	Scrape       ScrapeOptions
	Files        FileOptions
	Image        ImageOptions
	SpeechToText SpeechOptions

	// Images and Speech override the OpenAI-compatible clients built from
	// Image and SpeechToText.
	Images ImageGenerator
	Speech Transcriber
}

// SearchOptions configures the Custom Search JSON API client.
type SearchOptions struct {
	APIKey          string   `toml:"api_key"`
	EngineID        string   `toml:"engine_id"`
	BaseURL         string   `toml:"base_url"`
	Limit           int      `toml:"limit"`
	ExcludedDomains []string `toml:"excluded_domains"`
}

// ScrapeOptions configures page fetching.
type ScrapeOptions struct {
	MaxChars    int    `toml:"max_chars"`
	Concurrency int    `toml:"concurrency"`
	UserAgent   string `toml:"user_agent"`
}

// FileOptions configures the file and PDF readers.
type FileOptions struct {
	MaxChars int `toml:"max_chars"`
}

// ImageOptions selects the image generation provider.
type ImageOptions struct {
	Provider model.ProviderRecord
	Model    string
	Size     string
}

// SpeechOptions selects the speech-to-text provider.
type SpeechOptions struct {
	Provider model.ProviderRecord
	Model    string
}

const (
	defaultSearchURL     = "https://www.googleapis.com/customsearch/v1"
	defaultSearchLimit   = 5
	maxSearchLimit       = 10
	defaultScrapeChars   = 20000
	defaultScrapeWorkers = 4
	defaultFileChars     = 50000
	defaultUserAgent     = "polychat/1.0"
)

// DefaultExcludedDomains are result hosts that rarely add anything a model
// does not already know.
var DefaultExcludedDomains = []string{
	"wikipedia.org",
	"wikiwand.com",
	"reddit.com",
	"quora.com",
	"pinterest.com",
}

// DefaultOptions returns the executor defaults.
func DefaultOptions() Options {
	return Options{
		Search: SearchOptions{
			BaseURL:         defaultSearchURL,
			Limit:           defaultSearchLimit,
			ExcludedDomains: append([]string(nil), DefaultExcludedDomains...),
		},
		Scrape: ScrapeOptions{
			MaxChars:    defaultScrapeChars,
			Concurrency: defaultScrapeWorkers,
			UserAgent:   defaultUserAgent,
		},
		Files: FileOptions{MaxChars: defaultFileChars},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Search.BaseURL == "" {
		o.Search.BaseURL = d.Search.BaseURL
	}
	if o.Search.Limit <= 0 {
		o.Search.Limit = d.Search.Limit
	}
	if o.Search.Limit > maxSearchLimit {
		o.Search.Limit = maxSearchLimit
	}
	if o.Scrape.MaxChars <= 0 {
		o.Scrape.MaxChars = d.Scrape.MaxChars
	}
	if o.Scrape.Concurrency <= 0 {
		o.Scrape.Concurrency = d.Scrape.Concurrency
	}
	if o.Scrape.UserAgent == "" {
		o.Scrape.UserAgent = d.Scrape.UserAgent
	}
	if o.Files.MaxChars <= 0 {
		o.Files.MaxChars = d.Files.MaxChars
	}
	return o
}
