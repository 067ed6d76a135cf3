package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

var (
	providerFlag string
	modelFlag    string
)

var rootCmd = &cobra.Command{
	Use:          "polychat",
	Short:        "Chat with OpenAI, OpenRouter, Gemini, Claude and Ollama models",
	Long:         "polychat is a terminal chat client for several model providers with built-in tools.\nRun without a subcommand to open the chat view.",
	Version:      Version,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "provider id (default: default_provider from config.toml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "model name (default: the provider's default chat model)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
