package config

import (
	"time"

	"polychat/model"
)

// DefaultFlushInterval is used when flush_interval_ms is unset.
const DefaultFlushInterval = 100 * time.Millisecond

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/polychat",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Stream:          true,
		FlushIntervalMS: int(DefaultFlushInterval / time.Millisecond),
		Security:        SecurityConfig{Method: SecurityPlainText},
		Generation: GenerationSection{
			Temperature: 1.0,
			TopP:        1.0,
			MaxTokens:   4096,
		},
		Search: SearchSection{Limit: 5},
		Scrape: ScrapeSection{MaxChars: 20000, Concurrency: 4},
		Files:  FilesSection{MaxChars: 50000},
	}
}

func knownVendor(v string) bool {
	switch model.Vendor(v) {
	case model.VendorOpenAI, model.VendorOpenRouter, model.VendorGoogle,
		model.VendorAnthropic, model.VendorVertex, model.VendorOllama:
		return true
	}
	return false
}

func GenerateSystemConfigTemplate() string {
	return `# polychat system configuration
# Location: ~/.config/polychat/settings.toml
# This file uses TOML format: https://toml.io

# Directory where conversations, attachments and the user config are stored
data_directory = "~/.local/share/polychat"
`
}

func GenerateUserConfigTemplate() string {
	return `# polychat user configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io
#
# API keys are not stored here. Set them with "polychat providers key <id>"
# or export POLYCHAT_<ID>_API_KEY (for example POLYCHAT_OPENAI_API_KEY).

# Provider used for new conversations (id from [[providers]])
default_provider = "ollama"

# Model used for new conversations; empty means the provider's default_chat_model
default_model = ""

# System prompt for new conversations (optional)
system_prompt = ""

# Stream replies as they are generated
stream = true

# Minimum delay between screen updates while streaming
flush_interval_ms = 100

[security]
# "plaintext" stores keys in credentials.toml (0600)
# "ssh_key" encrypts them into credentials.enc with a key derived from an SSH key
method = "plaintext"
# ssh_key_path = "~/.ssh/id_ed25519"

[generation]
temperature = 1.0
top_p = 1.0
frequency_penalty = 0.0
presence_penalty = 0.0
max_tokens = 4096

[tools]
# Tools enabled for new conversations:
# googleSearch, urlScrape, imageGenerate, transcribe, pdfReader, fileReader
enabled = []

# Model turns that may request tools before tools are withheld (0 = unlimited)
max_tool_rounds = 0

# Providers (ids from [[providers]]) serving image generation and transcription
image_provider = ""
image_model = "dall-e-3"
image_size = "1024x1024"
speech_provider = ""
speech_model = "whisper-1"

[search]
# Google Custom Search engine id; the API key is the "search" credential
engine_id = ""
limit = 5
excluded_domains = ["wikipedia.org", "wikiwand.com", "reddit.com", "quora.com", "pinterest.com"]

[scrape]
max_chars = 20000
concurrency = 4

[files]
max_chars = 50000

[[providers]]
id = "ollama"
name = "Ollama"
vendor = "ollama"
host = "http://localhost:11434"
enabled = true
default_chat_model = "llama3.1:latest"

[[providers]]
id = "openai"
name = "OpenAI"
vendor = "openai"
enabled = false
default_chat_model = "gpt-4o-mini"
default_image_model = "dall-e-3"
default_stt_model = "whisper-1"

[[providers]]
id = "openrouter"
name = "OpenRouter"
vendor = "openrouter"
enabled = false
default_chat_model = "openai/gpt-4o-mini"

[[providers]]
id = "anthropic"
name = "Anthropic"
vendor = "anthropic"
enabled = false
default_chat_model = "claude-sonnet-4-5"

[[providers]]
id = "google"
name = "Google"
vendor = "google"
enabled = false
default_chat_model = "gemini-2.5-flash"

# Claude on Vertex AI: host names the project and location, the key is an
# access token (gcloud auth print-access-token)
# [[providers]]
# id = "vertex"
# name = "Vertex AI"
# vendor = "vertex"
# host = "https://us-east5-aiplatform.googleapis.com/v1/projects/my-project/locations/us-east5"
# enabled = false
# default_chat_model = "claude-sonnet-4-5"
`
}
