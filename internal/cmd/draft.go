package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/config"
	"github.com/lucky401/codex-autorunner-sub004/internal/draft"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

var applyForce bool

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Inspect, apply, or discard a pending draft",
}

var draftShowCmd = &cobra.Command{
	Use:   "show <kind:id>",
	Short: "Show the pending draft for a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, svc, err := draftService(args[0])
		if err != nil {
			return err
		}

		pending, err := svc.Fetch(cmd.Context(), target)
		if err != nil {
			return err
		}
		if pending == nil {
			fmt.Println("No pending draft.")
			return nil
		}

		if pending.AgentMessage != "" {
			fmt.Println(pending.AgentMessage)
			fmt.Println()
		}
		if pending.Patch != "" {
			fmt.Println(pending.Patch)
		} else {
			fmt.Println(pending.Content)
		}
		if pending.Stale {
			fmt.Println(errorStyle.Render("\nStale: content changed since this draft was created. Apply requires --force."))
		}
		return nil
	},
}

var draftApplyCmd = &cobra.Command{
	Use:   "apply <kind:id>",
	Short: "Apply the pending draft to live content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, svc, err := draftService(args[0])
		if err != nil {
			return err
		}

		content, err := svc.Apply(cmd.Context(), target, applyForce)
		var stale *draft.StaleDraftError
		if errors.As(err, &stale) {
			return fmt.Errorf("%w (re-run with --force to apply anyway, or discard)", err)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Applied draft to %s (%d bytes).\n", target, len(content))
		return nil
	},
}

var draftDiscardCmd = &cobra.Command{
	Use:   "discard <kind:id>",
	Short: "Discard the pending draft without touching live content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, svc, err := draftService(args[0])
		if err != nil {
			return err
		}
		if err := svc.Discard(cmd.Context(), target); err != nil {
			return err
		}
		fmt.Printf("Discarded draft for %s.\n", target)
		return nil
	},
}

func draftService(key string) (models.Target, *draft.Service, error) {
	target, err := models.ParseTarget(key)
	if err != nil {
		return models.Target{}, nil, err
	}
	client := api.NewClient(config.Runtime.ServerURL, config.Runtime.Token)
	return target, draft.NewService(client, nil), nil
}

func init() {
	draftApplyCmd.Flags().BoolVar(&applyForce, "force", false, "apply even when the draft is stale")
	draftCmd.AddCommand(draftShowCmd, draftApplyCmd, draftDiscardCmd)
	rootCmd.AddCommand(draftCmd)
}
