package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/config"
	"github.com/lucky401/codex-autorunner-sub004/internal/timeline"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Show agent dispatches and replies as one merged timeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(config.Runtime.ServerURL, config.Runtime.Token)

		dispatches, err := client.Dispatches(cmd.Context())
		if err != nil {
			return err
		}
		replies, err := client.Replies(cmd.Context())
		if err != nil {
			return err
		}

		merged := timeline.MergeByTime(dispatches, replies)
		if len(merged) == 0 {
			fmt.Println("Inbox is empty.")
			return nil
		}
		for _, entry := range merged {
			line := fmt.Sprintf("%s  %-10s %s",
				entry.Time.Format("15:04:05"), entry.Title, entry.Summary)
			fmt.Println(entryStyle.Render(line))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inboxCmd)
}
