package model

// ToolName identifies one entry of the fixed tool catalog. The string value is
// also the function name advertised to vendors.
type ToolName string

const (
	ToolSearch        ToolName = "googleSearch"
	ToolURLScrape     ToolName = "urlScrape"
	ToolImageGenerate ToolName = "imageGenerate"
	ToolTranscribe    ToolName = "transcribe"
	ToolPDFReader     ToolName = "pdfReader"
	ToolFileReader    ToolName = "fileReader"
)

// AllTools lists the catalog in its canonical order.
func AllTools() []ToolName {
	return []ToolName{
		ToolSearch,
		ToolURLScrape,
		ToolImageGenerate,
		ToolTranscribe,
		ToolPDFReader,
		ToolFileReader,
	}
}

// Known reports whether name belongs to the catalog.
func (n ToolName) Known() bool {
	for _, t := range AllTools() {
		if t == n {
			return true
		}
	}
	return false
}

// SearchArgs is the argument object of the search tool.
type SearchArgs struct {
	Query string `json:"query"`
}

// ScrapeArgs is the argument object of the URL scrape tool.
type ScrapeArgs struct {
	URLList []string `json:"url_list"`
}

// ImageArgs is the argument object of the image generation tool.
type ImageArgs struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
}

// FileArgs is the argument object shared by the transcription, PDF and file
// reader tools.
type FileArgs struct {
	ConversationID string   `json:"conversationID"`
	FileNames      []string `json:"fileNames"`
}
