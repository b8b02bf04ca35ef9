package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/config"
	"github.com/lucky401/codex-autorunner-sub004/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "autorunner",
	Short: "🤖 Autorunner - terminal client for the coding-agent runner",
	Long: `# 🤖 Autorunner

**Terminal client for an autonomous coding-agent runner.**

## ✨ Features

- 💬 **Agent turns** streamed live against documents, tickets, and workspace files
- 📝 **Draft review** with staleness-aware apply and discard
- 📥 **Inbox** merging dispatch and reply logs into one timeline
- 🧪 **Emulator** speaking the full wire protocol for development

## 🚀 Getting Started

Run **autorunner emulator** in one terminal, then
**autorunner turn document:readme "Summarize open questions"** in another.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Configure(logger.LevelFromEnv(config.Runtime.Dev), config.Runtime.Dev)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// renderMarkdownHelp renders command help with glamour so the markdown in
// Long descriptions displays properly in a terminal.
func renderMarkdownHelp(cmd *cobra.Command) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	} else if cmd.Short != "" {
		help.WriteString("# " + cmd.Short + "\n\n")
	}

	help.WriteString("## 📖 Usage\n\n```bash\n")
	help.WriteString(cmd.UseLine())
	help.WriteString("\n```\n\n")

	if cmd.HasAvailableSubCommands() {
		help.WriteString("## 🔧 Available Commands\n\n")
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				help.WriteString(fmt.Sprintf("- **%s** - %s\n", sub.Name(), sub.Short))
			}
		}
		help.WriteString("\n")
	}

	if cmd.HasAvailableFlags() {
		if usages := cmd.Flags().FlagUsages(); usages != "" {
			help.WriteString("## ⚙️  Flags\n\n```\n")
			help.WriteString(usages)
			help.WriteString("```\n\n")
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		_ = cmd.Help()
		return
	}
	rendered, err := renderer.Render(help.String())
	if err != nil {
		_ = cmd.Help()
		return
	}
	fmt.Print(rendered)
}
