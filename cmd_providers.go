package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"polychat/config"
	"polychat/model"
	"polychat/ollama"
	"polychat/provider"
)

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(
		providersListCmd,
		providersEnableCmd,
		providersDisableCmd,
		providersKeyCmd,
		providersHostCmd,
		providersModelCmd,
		providersModelsCmd,
		providersDefaultCmd,
	)
}

var providersCmd = &cobra.Command{
	Use:     "providers",
	Aliases: []string{"provider"},
	Short:   "Manage model providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVENDOR\tENABLED\tHOST\tMODEL\tKEY")
		for _, p := range cfg.User.Providers {
			host := p.Host
			if host == "" {
				host = provider.DefaultHost(model.Vendor(p.Vendor))
			}
			marker := ""
			if p.ID == cfg.User.DefaultProvider {
				marker = " (default)"
			}
			key := "-"
			if rec, ok := cfg.Provider(p.ID); ok && rec.APIKey != "" {
				key = "set"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%t\t%s\t%s\t%s\n", p.ID, marker, p.Vendor, p.Enabled, host, p.DefaultChatModel, key)
		}
		return w.Flush()
	},
}

func providerFieldCmd(use, short, field string, value func(args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			v, err := value(args)
			if err != nil {
				return err
			}
			if err := config.UpdateProviderField(cfg, args[0], field, v); err != nil {
				return err
			}
			fmt.Printf("Provider %s: %s updated.\n", args[0], field)
			return nil
		},
	}
}

func constant(v string) func([]string) (string, error) {
	return func([]string) (string, error) { return v, nil }
}

func secondArg(name string) func([]string) (string, error) {
	return func(args []string) (string, error) {
		if len(args) < 2 {
			return "", fmt.Errorf("missing %s", name)
		}
		return args[1], nil
	}
}

// keyArg takes the key from the arguments or reads one line from stdin so it
// stays out of shell history.
func keyArg(args []string) (string, error) {
	if len(args) == 2 {
		return args[1], nil
	}
	fmt.Fprint(os.Stderr, "API key (empty to remove): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}

var (
	providersEnableCmd  = providerFieldCmd("enable <id>", "Enable a provider", "enabled", constant("true"))
	providersDisableCmd = providerFieldCmd("disable <id>", "Disable a provider", "enabled", constant("false"))
	providersKeyCmd     = providerFieldCmd("key <id> [api-key]", "Store or remove a provider's API key", "api_key", keyArg)
	providersHostCmd    = providerFieldCmd("host <id> <url>", "Set a provider's base URL", "host", secondArg("url"))
	providersModelCmd   = providerFieldCmd("model <id> <model>", "Set a provider's default chat model", "default_model", secondArg("model"))
)

var providersDefaultCmd = &cobra.Command{
	Use:   "default <id>",
	Short: "Use a provider for new conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.SetDefaultProvider(cfg, args[0]); err != nil {
			return err
		}
		fmt.Printf("Default provider set to %s.\n", args[0])
		return nil
	},
}

var providersModelsCmd = &cobra.Command{
	Use:   "models <id>",
	Short: "List a provider's models (installed models for Ollama)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rec, ok := cfg.Provider(args[0])
		if !ok {
			return fmt.Errorf("provider %q is not configured or not enabled", args[0])
		}

		models := rec.EnabledModels
		if rec.Vendor == model.VendorOllama {
			client, err := ollama.NewClient(rec.Host, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := client.Ping(ctx); err != nil {
				return fmt.Errorf("ollama at %s is not reachable: %w", client.BaseURL(), err)
			}
			if models, err = client.ListModels(ctx); err != nil {
				return err
			}
		}

		if len(models) == 0 {
			fmt.Println("No models configured; set enabled_models in config.toml.")
			return nil
		}
		for _, m := range models {
			line := m
			if m == rec.DefaultChatModel {
				line += " (default)"
			}
			if rec.Vendor == model.VendorOllama && !ollama.ModelSupportsToolCalling(m) {
				line += " (no tools)"
			}
			fmt.Println(line)
		}
		return nil
	},
}
