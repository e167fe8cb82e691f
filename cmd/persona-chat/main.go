package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/persona-chat/internal/config"
	"github.com/ashwinyue/persona-chat/internal/repository"
)

// 构建时通过 ldflags 注入
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona-chat",
		Short: "Persona chat, practice requirement gathering with a simulated client",
		Long:  "persona-chat serves the chat API and provisions the tables and image bucket it depends on.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSetupCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "persona-chat %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// defaultConfigPath CONFIG_PATH 优先
func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./configs/config.yaml"
}

func tablesFrom(cfg *config.Config) repository.Tables {
	return repository.Tables{
		Sessions: cfg.Store.SessionsCollection,
		Messages: cfg.Store.MessagesCollection,
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
