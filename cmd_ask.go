package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"polychat/chat"
	"polychat/model"
)

var (
	askResume   string
	askFiles    []string
	askTools    []string
	askNoTools  bool
	askNoStream bool
	askSystem   string
)

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askResume, "resume", "r", "", "continue a stored conversation by id")
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "attach a file (repeatable)")
	askCmd.Flags().StringSliceVarP(&askTools, "tool", "t", nil, "enable a tool for this message (repeatable)")
	askCmd.Flags().BoolVar(&askNoTools, "no-tools", false, "disable all tools")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "wait for the whole reply")
	askCmd.Flags().StringVarP(&askSystem, "system", "s", "", "system prompt for this conversation")
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send one message and print the reply",
	Long:  "Send one message and stream the reply to stdout. Without a prompt argument the prompt is read from stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "" {
			if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				prompt = string(data)
			}
		}
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("empty prompt")
		}

		attachments, err := readAttachments(askFiles)
		if err != nil {
			return err
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		session, err := a.openSession(askResume)
		if err != nil {
			return err
		}
		if err := applyAskFlags(session); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		defer context.AfterFunc(ctx, session.StopStreaming)()

		printer := newStreamPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), session.Transcript().Len())
		session.OnUpdate(printer.update)

		if err := session.SendInput(prompt, attachments); err != nil {
			return err
		}
		session.Wait()
		printer.finish(session.Snapshot())

		fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", session.ID())
		return session.Err()
	},
}

func applyAskFlags(session *chat.Session) error {
	cfg := session.Config()
	changed := false

	if askNoTools {
		cfg.Tools = map[model.ToolName]bool{}
		changed = true
	} else if len(askTools) > 0 {
		var names []model.ToolName
		for _, t := range askTools {
			name := model.ToolName(t)
			if !name.Known() {
				return fmt.Errorf("unknown tool %q", t)
			}
			names = append(names, name)
		}
		cfg = cfg.WithTools(names...)
		changed = true
	}
	if askNoStream {
		cfg.Stream = false
		changed = true
	}
	if askSystem != "" {
		cfg.SystemPrompt = askSystem
		changed = true
	}

	if !changed {
		return nil
	}
	return session.SetConfig(cfg, nil)
}

// readAttachments loads files for a message. The MIME type comes from the
// extension, else from the content.
func readAttachments(paths []string) ([]model.Attachment, error) {
	var out []model.Attachment
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		out = append(out, model.Attachment{
			Name:     filepath.Base(path),
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return out, nil
}

// streamPrinter writes assistant text as it arrives and notes tool activity
// on stderr. Messages before skip are history and are not printed.
type streamPrinter struct {
	out  io.Writer
	info io.Writer
	skip int

	mu      sync.Mutex
	printed map[string]int
	noted   map[string]bool
}

func newStreamPrinter(out, info io.Writer, skip int) *streamPrinter {
	return &streamPrinter{
		out:     out,
		info:    info,
		skip:    skip,
		printed: map[string]int{},
		noted:   map[string]bool{},
	}
}

func (p *streamPrinter) update(snap chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.skip > len(snap.Messages) {
		return
	}

	for _, m := range snap.Messages[p.skip:] {
		switch m.Role {
		case model.RoleAssistant:
			n := p.printed[m.ID]
			if len(m.Content) > n {
				fmt.Fprint(p.out, m.Content[n:])
				p.printed[m.ID] = len(m.Content)
			}
			if len(m.ToolCalls) > 0 && !p.noted[m.ID] {
				p.noted[m.ID] = true
				if n > 0 || len(m.Content) > 0 {
					fmt.Fprintln(p.out)
				}
				for _, c := range m.ToolCalls {
					fmt.Fprintf(p.info, "[tool] %s %s\n", c.Tool, c.Arguments)
				}
			}

		case model.RoleTool:
			if m.ToolResult == nil || m.IsReplying || p.noted[m.ID] {
				continue
			}
			p.noted[m.ID] = true
			for _, att := range m.ToolResult.Attachments {
				fmt.Fprintf(p.info, "[tool] %s produced %s (%s)\n", m.ToolResult.Tool, att.Name, att.MIMEType)
			}
		}
	}
}

func (p *streamPrinter) finish(snap chat.Snapshot) {
	p.update(snap)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.printed) > 0 {
		fmt.Fprintln(p.out)
	}
}
