package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"polychat/config"
	"polychat/model"
	"polychat/ui"
)

var chatResume string

func init() {
	rootCmd.Flags().StringVarP(&chatResume, "resume", "r", "", "resume a stored conversation by id")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	session, err := a.openSession(chatResume)
	if err != nil {
		return err
	}

	keys, err := config.LoadKeybindings(a.cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to load keybindings: %w", err)
	}

	defaults := a.cfg.GenerationFor(session.Config().Provider).EnabledTools()
	if len(defaults) == 0 {
		defaults = model.AllTools()
	}

	p := tea.NewProgram(
		ui.NewChatView(ui.Options{
			Manager:      a.manager,
			Session:      session,
			Keys:         keys,
			Models:       modelChoices(a.cfg),
			DefaultTools: defaults,
		}),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running polychat: %w", err)
	}
	return nil
}
