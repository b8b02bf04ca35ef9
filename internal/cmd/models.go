package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/config"
	"github.com/lucky401/codex-autorunner-sub004/internal/history"
	"github.com/lucky401/codex-autorunner-sub004/internal/turn"
)

var modelsRefresh bool

var modelsCmd = &cobra.Command{
	Use:   "models [agent]",
	Short: "List the model catalog for an agent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent := config.Runtime.Agent
		if len(args) == 1 {
			agent = args[0]
		}

		client := api.NewClient(config.Runtime.ServerURL, config.Runtime.Token)
		store := history.NewStore(config.Runtime.HistoryDir())
		manager := turn.NewManager(client, store, turn.Config{HistoryPrefix: "chat:"})

		var (
			catalog []string
			err     error
		)
		if modelsRefresh {
			catalog, err = manager.RefreshModels(cmd.Context(), agent)
		} else {
			catalog, err = manager.Models(cmd.Context(), agent)
		}
		if err != nil {
			return err
		}

		for _, model := range catalog {
			fmt.Println(model)
		}
		return nil
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsRefresh, "refresh", false, "bypass the catalog cache")
	rootCmd.AddCommand(modelsCmd)
}
