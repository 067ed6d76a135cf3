package ui

import (
	"fmt"
	"regexp"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	tea "github.com/charmbracelet/bubbletea"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mattn/go-runewidth"

	"polychat/config"
	"polychat/model"
)

var (
	mdLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	ansiRegex   = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// preprocessLinks turns [text](url) into "text (url)" so terminals can detect
// the url.
func preprocessLinks(s string) string {
	return mdLinkRegex.ReplaceAllString(s, "$1 ($2)")
}

// renderMarkdown renders content for a terminal of the given width. Plain
// urls stay plain text; autolinking would break terminal url detection.
func renderMarkdown(content string, width int) string {
	if width < 20 {
		width = 20
	}
	content = preprocessLinks(content)

	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width-4, 0)
	doc := p.Parse([]byte(content))
	return strings.TrimRight(string(gomarkdown.Render(doc, r)), "\n")
}

func renderMarkdownCmd(id, content string, width int) tea.Cmd {
	return func() tea.Msg {
		rendered := renderMarkdown(content, width)
		if config.DebugLog != nil {
			config.DebugLog.Printf("[UI] Rendered markdown for %s (%d chars)", id, len(content))
		}
		return markdownRenderedMsg{MessageID: id, Source: content, Width: width, Rendered: rendered}
	}
}

// wordWrapWithIndent wraps text to maxWidth, indenting continuation lines to
// line up after prefix.
func wordWrapWithIndent(text, prefix string, maxWidth int) string {
	prefixLen := runewidth.StringWidth(stripANSI(prefix))
	available := maxWidth - prefixLen
	if available <= 0 {
		return prefix + text
	}
	indent := strings.Repeat(" ", prefixLen)

	var out strings.Builder
	first := true
	emit := func(line string) {
		if first {
			out.WriteString(prefix)
			first = false
		} else {
			out.WriteString(indent)
		}
		out.WriteString(line)
		out.WriteString("\n")
	}

	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			emit("")
			continue
		}
		var line strings.Builder
		lineWidth := 0
		for _, word := range words {
			w := runewidth.StringWidth(word)
			for w > available {
				if lineWidth > 0 {
					emit(line.String())
					line.Reset()
					lineWidth = 0
				}
				head := runewidth.Truncate(word, available, "")
				emit(head)
				word = word[len(head):]
				w = runewidth.StringWidth(word)
			}
			if lineWidth > 0 && lineWidth+1+w > available {
				emit(line.String())
				line.Reset()
				lineWidth = 0
			}
			if lineWidth > 0 {
				line.WriteString(" ")
				lineWidth++
			}
			line.WriteString(word)
			lineWidth += w
		}
		if lineWidth > 0 {
			emit(line.String())
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// truncate shortens s to width cells.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "...")
}

func attachmentLine(atts []model.Attachment) string {
	if len(atts) == 0 {
		return ""
	}
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = a.Name
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func toolCallLine(calls []model.ToolCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = string(c.Tool)
	}
	return fmt.Sprintf("-> calling %s", strings.Join(names, ", "))
}

// formatMessage renders one message for the viewport. body is the markdown
// output for assistant messages, or "" to fall back to wrapped plain text.
func formatMessage(msg model.Message, body string, width int) string {
	var b strings.Builder
	stamp := DimStyle.Render(msg.CreatedAt.Format("15:04"))

	switch msg.Role {
	case model.RoleUser:
		b.WriteString(UserStyle.Render("You") + " " + stamp + "\n")
		b.WriteString(wordWrapWithIndent(msg.Content, "", width))
		if line := attachmentLine(msg.Attachments); line != "" {
			b.WriteString("\n" + DimStyle.Render(line))
		}

	case model.RoleAssistant:
		b.WriteString(AssistantStyle.Render("Assistant") + " " + stamp + "\n")
		if body == "" {
			body = wordWrapWithIndent(msg.Content, "", width)
		}
		b.WriteString(body)
		if len(msg.ToolCalls) > 0 {
			if body != "" {
				b.WriteString("\n")
			}
			b.WriteString(ToolStyle.Render(toolCallLine(msg.ToolCalls)))
		}

	case model.RoleTool:
		name := "tool"
		if msg.ToolResult != nil {
			name = string(msg.ToolResult.Tool)
		}
		b.WriteString(ToolStyle.Render(name) + " " + stamp + "\n")
		content := msg.Content
		if msg.ToolResult != nil && content == "" {
			content = msg.ToolResult.Content
		}
		b.WriteString(DimStyle.Render(truncate(strings.Join(strings.Fields(content), " "), width*2)))
		if msg.ToolResult != nil {
			if line := attachmentLine(msg.ToolResult.Attachments); line != "" {
				b.WriteString("\n" + DimStyle.Render(line))
			}
		}

	default:
		b.WriteString(DimStyle.Render(wordWrapWithIndent(msg.Content, "", width)))
	}
	return b.String()
}

// markerLine separates history the model no longer sees.
func markerLine(width int) string {
	label := " context reset "
	side := (width - runewidth.StringWidth(label)) / 2
	if side < 2 {
		side = 2
	}
	return MarkerStyle.Render(strings.Repeat("-", side) + label + strings.Repeat("-", side))
}
