package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/config"
	"github.com/lucky401/codex-autorunner-sub004/internal/history"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/turn"
)

var (
	turnAgent   string
	turnModel   string
	turnCompact bool

	statusStyle   = lipgloss.NewStyle().Faint(true)
	thinkingStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	entryStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

var turnCmd = &cobra.Command{
	Use:   "turn <kind:id> <message>",
	Short: "Run one agent turn against a target and stream the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runTurn,
}

func init() {
	turnCmd.Flags().StringVar(&turnAgent, "agent", "", "agent override (default from config)")
	turnCmd.Flags().StringVar(&turnModel, "model", "", "model override (default from config)")
	turnCmd.Flags().BoolVar(&turnCompact, "compact", false, "condense agent actions into one summary line")
	rootCmd.AddCommand(turnCmd)
}

func runTurn(cmd *cobra.Command, args []string) error {
	target, err := models.ParseTarget(args[0])
	if err != nil {
		return err
	}
	message := args[1]

	cfg := config.Runtime
	client := api.NewClient(cfg.ServerURL, cfg.Token)
	store := history.NewStore(cfg.HistoryDir())
	manager := turn.NewManager(client, store, turn.Config{
		HistoryPrefix: "chat:",
		Compact:       turnCompact,
	})

	manager.SetFlash(func(msg, kind string) {
		if kind == "error" {
			fmt.Fprintln(os.Stderr, errorStyle.Render(msg))
		}
	})
	manager.SetOnChange(newTurnPrinter(turnCompact, os.Stdout, os.Stderr).print)

	session, err := manager.SetTarget(target)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		session.Cancel(context.Background())
	}()

	opts := turn.TurnOptions{Agent: turnAgent, Model: turnModel}
	if opts.Agent == "" {
		opts.Agent = cfg.Agent
	}
	if opts.Model == "" {
		opts.Model = cfg.Model
	}

	if err := session.Start(ctx, message, opts); err != nil {
		return err
	}

	snap := session.Snapshot()
	switch snap.Status {
	case turn.StatusDone:
		if turnCompact {
			if summary := session.CompactEvents(); summary != "" {
				fmt.Fprintln(os.Stderr, statusStyle.Render(summary))
			}
		}
		if snap.StreamText != "" {
			fmt.Println()
			fmt.Print(renderMarkdown(snap.StreamText))
		}
		if snap.LastUpdate != nil && snap.LastUpdate.Draft != nil {
			fmt.Println(statusStyle.Render("A draft is pending. Review it with: autorunner draft show " + target.Key()))
		}
	case turn.StatusInterrupted:
		fmt.Println(statusStyle.Render("Turn interrupted."))
	case turn.StatusError:
		return fmt.Errorf("turn failed: %s", snap.Err)
	}
	return nil
}

// turnPrinter projects session snapshots onto the terminal, printing only
// what changed since the last snapshot. In compact mode the live event
// lines are suppressed; the condensed summary is printed once the turn
// resolves.
type turnPrinter struct {
	compact bool
	out     io.Writer
	errOut  io.Writer

	lastStatus  string
	eventsSeen  int
	streamedLen int
}

func newTurnPrinter(compact bool, out, errOut io.Writer) *turnPrinter {
	return &turnPrinter{compact: compact, out: out, errOut: errOut}
}

func (p *turnPrinter) print(snap turn.Snapshot) {
	if snap.StatusText != p.lastStatus && snap.StatusText != "" {
		fmt.Fprintln(p.errOut, statusStyle.Render("["+snap.StatusText+"]"))
		p.lastStatus = snap.StatusText
	}

	if p.eventsSeen > len(snap.Events) {
		// The ring buffer truncated underneath us
		p.eventsSeen = len(snap.Events)
	}
	if !p.compact {
		for _, entry := range snap.Events[p.eventsSeen:] {
			if entry.Kind == models.KindThinking {
				fmt.Fprintln(p.errOut, thinkingStyle.Render("· "+entry.Title))
				continue
			}
			line := entry.Title
			if entry.Summary != "" {
				line += ": " + entry.Summary
			}
			fmt.Fprintln(p.errOut, entryStyle.Render("• "+line))
		}
	}
	p.eventsSeen = len(snap.Events)

	if len(snap.StreamText) > p.streamedLen {
		fmt.Fprint(p.out, snap.StreamText[p.streamedLen:])
		p.streamedLen = len(snap.StreamText)
	}
}

// renderMarkdown renders agent markdown for the terminal, falling back to
// the raw text when rendering fails.
func renderMarkdown(text string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text + "\n"
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return rendered
}
