package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"polychat/chat"
	"polychat/config"
	"polychat/model"
)

const titleTimeout = 60 * time.Second

// Options configures the chat view.
type Options struct {
	Manager *chat.Manager
	Session *chat.Session
	Keys    *config.KeyBindingsConfig
	Models  []ModelChoice

	// DefaultTools are enabled by toggle_tools when no tool is on.
	DefaultTools []model.ToolName
}

// ChatView is the bubbletea model for one conversation.
type ChatView struct {
	manager      *chat.Manager
	session      *chat.Session
	keys         *config.KeyBindingsConfig
	defaultTools []model.ToolName
	updates      chan struct{}

	snap     chat.Snapshot
	rendered map[string]markdownRenderedMsg
	pending  map[string]string

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	selector modelSelector

	showSelector bool
	showHelp     bool
	titling      bool

	width  int
	height int
	ready  bool

	flash    string
	flashErr bool
	flashSeq int
}

// NewChatView builds the view around opts.Session.
func NewChatView(opts Options) ChatView {
	keys := opts.Keys
	if keys == nil {
		keys = config.DefaultKeybindings()
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message. Alt+Enter for a new line."
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.SetWidth(80)
	// Enter sends; a newline needs alt+enter.
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "| "
	})

	// Scrolling goes through the keybindings so typing never moves the view.
	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.KeyMap{}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = AssistantStyle

	c := ChatView{
		manager:      opts.Manager,
		keys:         keys,
		defaultTools: opts.DefaultTools,
		updates:      make(chan struct{}, 1),
		rendered:     map[string]markdownRenderedMsg{},
		pending:      map[string]string{},
		viewport:     vp,
		textarea:     ta,
		spinner:      sp,
		selector:     newModelSelector(opts.Models),
	}
	c.bind(opts.Session)
	return c
}

// bind makes s the displayed session. Observers of earlier sessions keep
// signalling the same channel; the view only ever reads the bound one.
func (c *ChatView) bind(s *chat.Session) {
	c.session = s
	c.snap = s.Snapshot()
	c.rendered = map[string]markdownRenderedMsg{}
	c.pending = map[string]string{}

	updates := c.updates
	s.OnUpdate(func(chat.Snapshot) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
}

// Session returns the bound session.
func (c ChatView) Session() *chat.Session { return c.session }

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return sessionChangedMsg{}
	}
}

func (c ChatView) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, c.spinner.Tick, waitForUpdate(c.updates))
}

func (c ChatView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		// Title (1), textarea (3) and status bar (1).
		c.viewport.Width = c.width
		c.viewport.Height = max(c.height-5, 1)
		c.textarea.SetWidth(c.width)
		c.ready = true
		return c, c.refresh(true)

	case sessionChangedMsg:
		c.snap = c.session.Snapshot()
		return c, tea.Batch(waitForUpdate(c.updates), c.refresh(false))

	case markdownRenderedMsg:
		delete(c.pending, msg.MessageID)
		if msg.Width == c.width {
			c.rendered[msg.MessageID] = msg
		}
		return c, c.refresh(false)

	case spinner.TickMsg:
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		if c.snap.IsReplying {
			return c, tea.Batch(cmd, c.refresh(false))
		}
		return c, cmd

	case titleGeneratedMsg:
		c.titling = false
		if msg.Err != nil {
			return c, c.setFlash("Title failed: "+msg.Err.Error(), true)
		}
		return c, c.setFlash("Title: "+msg.Title, false)

	case flashMsg:
		return c, c.setFlash(msg.Text, msg.IsError)

	case flashClearMsg:
		if msg.seq == c.flashSeq {
			c.flash = ""
		}
		return c, nil

	case tea.KeyMsg:
		if c.showSelector {
			choice, done, cmd := c.selector.update(msg)
			if done {
				c.showSelector = false
				c.textarea.Focus()
			}
			if choice != nil {
				cmds = append(cmds, c.selectModel(*choice))
			}
			return c, tea.Batch(append(cmds, cmd)...)
		}
		if c.showHelp {
			c.showHelp = false
			return c, nil
		}
		if cmd, handled := c.handleKey(msg); handled {
			c.snap = c.session.Snapshot()
			return c, tea.Batch(cmd, c.refresh(false))
		}
	}

	var cmd tea.Cmd
	c.textarea, cmd = c.textarea.Update(msg)
	cmds = append(cmds, cmd)
	c.viewport, cmd = c.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return c, tea.Batch(cmds...)
}

// handleKey runs the action bound to msg, if any.
func (c *ChatView) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	k := msg.String()
	if k == "ctrl+c" {
		c.session.StopStreaming()
		return tea.Quit, true
	}

	action := ""
	for _, name := range config.ActionNames() {
		if c.keys.Key(name) == k {
			action = name
			break
		}
	}
	if action == "" {
		return nil, false
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[UI] Key %s -> %s", k, action)
	}

	switch action {
	case "quit":
		c.session.StopStreaming()
		return tea.Quit, true

	case "send":
		return c.send(), true

	case "stop":
		if c.snap.Editing != "" {
			c.session.CancelEdit()
			c.textarea.Reset()
			return nil, true
		}
		if c.snap.IsReplying {
			c.session.StopStreaming()
			return c.setFlash("Stopped", false), true
		}
		return nil, true

	case "regenerate":
		target, ok := lastMessage(c.snap.Messages, model.RoleAssistant, model.RoleUser)
		if !ok {
			return nil, true
		}
		return c.report(c.session.Regenerate(target.ID)), true

	case "edit_last":
		target, ok := lastMessage(c.snap.Messages, model.RoleUser)
		if !ok {
			return nil, true
		}
		if err := c.session.BeginEdit(target.ID); err != nil {
			return c.report(err), true
		}
		c.textarea.SetValue(target.Content)
		return nil, true

	case "reset_context":
		if len(c.snap.Messages) == 0 {
			return nil, true
		}
		last := c.snap.Messages[len(c.snap.Messages)-1]
		return c.report(c.session.ResetContext(last.ID)), true

	case "yank_last":
		target, ok := lastMessage(c.snap.Messages, model.RoleAssistant)
		if !ok || target.Content == "" {
			return nil, true
		}
		if err := clipboard.WriteAll(target.Content); err != nil {
			return c.setFlash("Copy failed: "+err.Error(), true), true
		}
		return c.setFlash("Copied reply to clipboard", false), true

	case "model_selector":
		c.showSelector = true
		c.textarea.Blur()
		return c.selector.open(ModelChoice{Provider: c.snap.Config.Provider, Model: c.snap.Config.Model}), true

	case "toggle_tools":
		cfg := c.session.Config()
		if len(cfg.EnabledTools()) > 0 {
			cfg.Tools = map[model.ToolName]bool{}
		} else {
			cfg = cfg.WithTools(c.defaultTools...)
		}
		if err := c.session.SetConfig(cfg, nil); err != nil {
			return c.report(err), true
		}
		return c.setFlash(fmt.Sprintf("Tools: %d enabled", len(cfg.EnabledTools())), false), true

	case "new_session":
		if c.manager == nil {
			return nil, true
		}
		cfg := c.session.Config()
		cfg.ConversationID = ""
		s, err := c.manager.Create(cfg)
		if err != nil {
			return c.report(err), true
		}
		c.bind(s)
		c.textarea.Reset()
		return tea.Batch(c.refresh(true), c.setFlash("New conversation", false)), true

	case "generate_title":
		if c.titling {
			return nil, true
		}
		c.titling = true
		s := c.session
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
			defer cancel()
			title, err := s.GenerateTitle(ctx)
			return titleGeneratedMsg{Title: title, Err: err}
		}, true

	case "help":
		c.showHelp = true
		return nil, true

	case "scroll_up":
		c.viewport.SetYOffset(c.viewport.YOffset - 1)
		return nil, true
	case "scroll_down":
		c.viewport.SetYOffset(c.viewport.YOffset + 1)
		return nil, true
	case "half_page_up":
		c.viewport.HalfPageUp()
		return nil, true
	case "half_page_down":
		c.viewport.HalfPageDown()
		return nil, true
	}
	return nil, false
}

func (c *ChatView) send() tea.Cmd {
	text := strings.TrimSpace(c.textarea.Value())
	if text == "" {
		return nil
	}
	if err := c.session.SendInput(text, nil); err != nil {
		return c.report(err)
	}
	c.textarea.Reset()
	c.viewport.GotoBottom()
	return nil
}

func (c *ChatView) selectModel(choice ModelChoice) tea.Cmd {
	cfg := c.session.Config()
	cfg.Provider = choice.Provider
	cfg.Model = choice.Model

	var err error
	if c.manager != nil {
		err = c.manager.Configure(c.session.ID(), cfg)
	} else {
		err = c.session.SetConfig(cfg, nil)
	}
	if err != nil {
		return c.report(err)
	}
	return c.setFlash("Model: "+choice.Label(), false)
}

// report flashes err, if any.
func (c *ChatView) report(err error) tea.Cmd {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrBusy) {
		return c.setFlash("Wait for the reply to finish or stop it first", true)
	}
	return c.setFlash(err.Error(), true)
}

func (c *ChatView) setFlash(text string, isError bool) tea.Cmd {
	c.flashSeq++
	c.flash = text
	c.flashErr = isError
	seq := c.flashSeq
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return flashClearMsg{seq: seq}
	})
}

// lastMessage finds the newest message with one of roles.
func lastMessage(msgs []model.Message, roles ...model.Role) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, r := range roles {
			if msgs[i].Role == r {
				return msgs[i], true
			}
		}
	}
	return model.Message{}, false
}

// refresh redraws the transcript and requests markdown for finished
// assistant messages whose cached rendering is stale.
func (c *ChatView) refresh(gotoBottom bool) tea.Cmd {
	if !c.ready {
		return nil
	}
	atBottom := c.viewport.AtBottom()
	width := max(c.width-2, 10)

	var cmds []tea.Cmd
	var b strings.Builder
	if len(c.snap.Messages) == 0 {
		b.WriteString(DimStyle.Render("No messages yet. Start chatting!"))
	}
	for i, msg := range c.snap.Messages {
		body := ""
		if msg.Role == model.RoleAssistant && !msg.IsReplying && strings.TrimSpace(msg.Content) != "" {
			if r, ok := c.rendered[msg.ID]; ok && r.Source == msg.Content && r.Width == c.width {
				body = r.Rendered
			} else if c.pending[msg.ID] != msg.Content {
				c.pending[msg.ID] = msg.Content
				cmds = append(cmds, renderMarkdownCmd(msg.ID, msg.Content, c.width))
			}
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		if msg.ID == c.snap.Editing {
			b.WriteString(SelectedStyle.Render("editing") + "\n")
		}
		b.WriteString(formatMessage(msg, body, width))
		if msg.IsReplying && msg.Content == "" && len(msg.ToolCalls) == 0 {
			b.WriteString(c.spinner.View() + DimStyle.Render(" thinking"))
		}
		if i == c.snap.ResetMarker {
			b.WriteString("\n\n" + markerLine(width))
		}
	}
	if c.snap.Err != "" {
		b.WriteString("\n\n" + ErrorStyle.Render(wordWrapWithIndent(c.snap.Err, "Error: ", width)))
	}

	c.viewport.SetContent(b.String())
	if gotoBottom || atBottom || c.snap.IsReplying {
		c.viewport.GotoBottom()
	}
	return tea.Batch(cmds...)
}

func (c ChatView) View() string {
	if !c.ready {
		return "Loading..."
	}

	title := c.header()
	body := c.viewport.View()
	switch {
	case c.showSelector:
		body = lipgloss.Place(c.width, c.viewport.Height, lipgloss.Center, lipgloss.Center,
			c.selector.view(min(c.width, 70), c.viewport.Height))
	case c.showHelp:
		body = lipgloss.Place(c.width, c.viewport.Height, lipgloss.Center, lipgloss.Center,
			c.helpView())
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		body,
		c.textarea.View(),
		c.statusBar(),
	)
}

func (c ChatView) header() string {
	cfg := c.snap.Config
	parts := []string{TitleStyle.Render("polychat")}
	if cfg.Provider.ID != "" {
		parts = append(parts, cfg.Provider.ID+"/"+cfg.Model)
	}
	if c.snap.Title != "" {
		parts = append(parts, c.snap.Title)
	}
	if n := len(cfg.EnabledTools()); n > 0 {
		parts = append(parts, fmt.Sprintf("tools: %d", n))
	}
	return truncate(strings.Join(parts, " | "), c.width)
}

func (c ChatView) statusBar() string {
	if c.flash != "" {
		if c.flashErr {
			return ErrorStyle.Render(truncate(c.flash, c.width))
		}
		return SelectedStyle.Render(truncate(c.flash, c.width))
	}

	var prefix string
	if c.snap.IsReplying {
		prefix = c.spinner.View() + " "
	}
	if c.titling {
		prefix += DimStyle.Render("titling... ")
	}

	footer := FormatFooter(
		c.keys.Display("send"), "Send",
		c.keys.Display("stop"), "Stop",
		c.keys.Display("regenerate"), "Regenerate",
		c.keys.Display("model_selector"), "Models",
		c.keys.Display("help"), "Help",
		c.keys.Display("quit"), "Quit",
	)
	return prefix + StatusStyle.Render(footer)
}

func (c ChatView) helpView() string {
	names := config.ActionNames()
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Keybindings") + "\n\n")
	for _, name := range names {
		b.WriteString(fmt.Sprintf("%-16s %s\n", c.keys.Display(name), DimStyle.Render(strings.ReplaceAll(name, "_", " "))))
	}
	b.WriteString("\n" + DimStyle.Render("press any key to close"))
	return ModalStyle.Render(b.String())
}
