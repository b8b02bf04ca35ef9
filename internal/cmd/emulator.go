package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/emulator"
)

var emulatorAddr string

var emulatorCmd = &cobra.Command{
	Use:   "emulator",
	Short: "Run a development emulator of the agent server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return emulator.NewServer().Listen(emulatorAddr)
	},
}

func init() {
	emulatorCmd.Flags().StringVar(&emulatorAddr, "addr", ":6060", "listen address")
	rootCmd.AddCommand(emulatorCmd)
}
