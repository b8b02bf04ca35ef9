package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/config"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

var contentFile string

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Read or replace a target's live content",
}

var contentShowCmd = &cobra.Command{
	Use:   "show <kind:id>",
	Short: "Print a target's live content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := models.ParseTarget(args[0])
		if err != nil {
			return err
		}
		client := api.NewClient(config.Runtime.ServerURL, config.Runtime.Token)
		content, err := client.Content(cmd.Context(), target)
		if err != nil {
			return err
		}
		fmt.Print(content)
		if content != "" && content[len(content)-1] != '\n' {
			fmt.Println()
		}
		return nil
	},
}

var contentSetCmd = &cobra.Command{
	Use:   "set <kind:id>",
	Short: "Replace a target's live content from a file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := models.ParseTarget(args[0])
		if err != nil {
			return err
		}

		var data []byte
		if contentFile != "" && contentFile != "-" {
			data, err = os.ReadFile(contentFile)
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return err
		}

		client := api.NewClient(config.Runtime.ServerURL, config.Runtime.Token)
		if err := client.ReplaceContent(cmd.Context(), target, string(data)); err != nil {
			return err
		}
		fmt.Printf("Replaced content for %s (%d bytes).\n", target, len(data))
		return nil
	},
}

func init() {
	contentSetCmd.Flags().StringVar(&contentFile, "file", "-", "read content from this file, - for stdin")
	contentCmd.AddCommand(contentShowCmd, contentSetCmd)
	rootCmd.AddCommand(contentCmd)
}
