package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"polychat/model"
	"polychat/storage"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(
		sessionsListCmd,
		sessionsShowCmd,
		sessionsDeleteCmd,
		sessionsRenameCmd,
		sessionsTitleCmd,
		sessionsExportCmd,
		sessionsSearchCmd,
	)
}

// openStorage opens the stores without building providers or tools.
func openStorage() (*storage.ConversationStorage, *storage.AttachmentStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	attachments, err := storage.NewAttachmentStore(cfg.DataDir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open attachment store: %w", err)
	}
	conversations, err := storage.NewConversationStorage(cfg.DataDir(), attachments)
	if err != nil {
		attachments.Close()
		return nil, nil, err
	}
	return conversations, attachments, nil
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage stored conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, attachments, err := openStorage()
		if err != nil {
			return err
		}
		defer attachments.Close()

		list, err := conversations.List()
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tMODEL\tMESSAGES\tUPDATED")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%s/%s\t%d\t%s\n",
				c.ID,
				truncateText(c.Title, 40),
				c.Provider, c.Model,
				c.MessageCount,
				c.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, attachments, err := openStorage()
		if err != nil {
			return err
		}
		defer attachments.Close()

		conv, err := conversations.Load(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", conv.Title)
		fmt.Printf("%s/%s, updated %s\n", conv.Config.Provider.ID, conv.Config.Model, conv.UpdatedAt.Format(time.RFC1123))
		for i, m := range conv.Messages {
			fmt.Printf("\n[%s] %s\n", m.Role, m.CreatedAt.Format("15:04"))
			switch {
			case m.Role == model.RoleTool && m.ToolResult != nil:
				fmt.Printf("%s: %s\n", m.ToolResult.Tool, truncateText(m.ToolResult.Content, 200))
			case len(m.ToolCalls) > 0:
				if m.Content != "" {
					fmt.Println(m.Content)
				}
				for _, c := range m.ToolCalls {
					fmt.Printf("-> %s %s\n", c.Tool, c.Arguments)
				}
			default:
				fmt.Println(m.Content)
			}
			for _, a := range m.Attachments {
				fmt.Printf("  attachment: %s (%s)\n", a.Name, a.MIMEType)
			}
			if i == conv.ResetMarker {
				fmt.Println("\n---- context reset ----")
			}
		}

		stored, err := attachments.List(context.Background(), conv.ID)
		if err != nil {
			return err
		}
		if len(stored) > 0 {
			fmt.Println()
			for _, a := range stored {
				fmt.Printf("stored: %s %s %d bytes\n", a.Name, a.MIMEType, a.Size)
			}
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation and its attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, attachments, err := openStorage()
		if err != nil {
			return err
		}
		defer attachments.Close()

		if err := conversations.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Conversation %s deleted.\n", args[0])
		return nil
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, attachments, err := openStorage()
		if err != nil {
			return err
		}
		defer attachments.Close()

		title := strings.Join(args[1:], " ")
		if err := conversations.Rename(args[0], title); err != nil {
			return err
		}
		fmt.Printf("Conversation %s renamed to %q.\n", args[0], title)
		return nil
	},
}

var sessionsTitleCmd = &cobra.Command{
	Use:   "title <id>",
	Short: "Ask the conversation's model for a title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		session, err := a.resumeSession(args[0], providerFlag, modelFlag)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		title, err := session.GenerateTitle(ctx)
		if err != nil {
			return err
		}
		fmt.Println(title)
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id> [path]",
	Short: "Export a conversation as JSON (default: ~/Downloads)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, attachments, err := openStorage()
		if err != nil {
			return err
		}
		defer attachments.Close()

		var path string
		if len(args) == 2 {
			path = args[1]
		} else {
			conv, err := conversations.Load(args[0])
			if err != nil {
				return err
			}
			path = storage.GenerateExportPath(conv.Title)
		}

		if err := conversations.ExportToJSON(args[0], path); err != nil {
			return err
		}
		fmt.Println("Exported to", path)
		return nil
	},
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages across conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, attachments, err := openStorage()
		if err != nil {
			return err
		}
		defer attachments.Close()

		matches, err := conversations.SearchAll(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tTITLE\tROLE\tMESSAGE")
		for _, m := range matches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ConversationID, truncateText(m.ConversationTitle, 30), m.Role, truncateText(m.Preview, 60))
		}
		return w.Flush()
	},
}

func truncateText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
