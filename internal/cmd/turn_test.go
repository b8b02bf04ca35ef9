package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/turn"
)

func turnSnapshot() turn.Snapshot {
	return turn.Snapshot{
		Status:     turn.StatusRunning,
		StatusText: "streaming",
		StreamText: "Hello",
		Events: []models.TimelineEntry{
			{Title: "Thinking", Summary: "reading", Kind: models.KindThinking, Time: time.Now()},
			{Title: "Ran command", Summary: "ls", Kind: models.KindCommand, Time: time.Now()},
		},
	}
}

func TestTurnPrinterFullMode(t *testing.T) {
	var out, errOut bytes.Buffer
	printer := newTurnPrinter(false, &out, &errOut)

	printer.print(turnSnapshot())

	assert.Equal(t, "Hello", out.String())
	assert.Contains(t, errOut.String(), "Ran command")
	assert.Contains(t, errOut.String(), "Thinking")
}

func TestTurnPrinterCompactModeSuppressesEventLines(t *testing.T) {
	var out, errOut bytes.Buffer
	printer := newTurnPrinter(true, &out, &errOut)

	printer.print(turnSnapshot())

	assert.Equal(t, "Hello", out.String())
	assert.NotContains(t, errOut.String(), "Ran command")
	assert.NotContains(t, errOut.String(), "Thinking")
	// Status transitions still show
	assert.Contains(t, errOut.String(), "streaming")
}

func TestTurnPrinterPrintsOnlyDeltas(t *testing.T) {
	var out, errOut bytes.Buffer
	printer := newTurnPrinter(false, &out, &errOut)

	snap := turnSnapshot()
	printer.print(snap)
	errOut.Reset()
	printer.print(snap)

	assert.Empty(t, errOut.String())
	assert.Equal(t, "Hello", out.String())
}
