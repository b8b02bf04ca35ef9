package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

// Agent-server event methods carried inside event/app-server frames.
const (
	MethodReasoningDelta        = "agent_reasoning_delta"
	MethodReasoningSectionBreak = "agent_reasoning_section_break"
	MethodMessageDelta          = "agent_message_delta"
	MethodItemCompleted         = "item_completed"
	MethodExecApproval          = "exec_approval_request"
	MethodPatchApproval         = "apply_patch_approval_request"
	MethodTurnCompleted         = "turn_completed"
	MethodError                 = "error"
)

// Item sub-types of item_completed events.
const (
	ItemCommandExecution = "command_execution"
	ItemFileChange       = "file_change"
	ItemToolCall         = "mcp_tool_call"
	ItemAgentMessage     = "agent_message"
)

const (
	// DefaultMaxEntries bounds the event log before truncation kicks in
	DefaultMaxEntries = 500
	// DefaultTrimTo is how many most-recent entries survive a truncation
	DefaultTrimTo = 400
)

// Log is the ring-buffered, normalized event log of one chat session.
// Reasoning deltas merge into existing entries by item identity; everything
// else appends. Not safe for concurrent use; the owning session serializes
// access.
type Log struct {
	maxEntries int
	trimTo     int
	entries    []models.TimelineEntry
	itemIndex  map[string]int
	seq        int
	now        func() time.Time
}

// NewLog creates an event log with the given bounds. Zero or negative
// bounds fall back to the defaults; trimTo is clamped below maxEntries.
func NewLog(maxEntries, trimTo int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if trimTo <= 0 || trimTo > maxEntries {
		trimTo = maxEntries * 4 / 5
		if trimTo == 0 {
			trimTo = maxEntries
		}
	}
	return &Log{
		maxEntries: maxEntries,
		trimTo:     trimTo,
		itemIndex:  make(map[string]int),
		now:        time.Now,
	}
}

// Len returns the number of retained entries.
func (l *Log) Len() int { return len(l.entries) }

// Entries returns a copy of the retained entries in arrival order.
func (l *Log) Entries() []models.TimelineEntry {
	out := make([]models.TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reset clears all entries and the item index.
func (l *Log) Reset() {
	l.entries = nil
	l.itemIndex = make(map[string]int)
}

// Apply normalizes one agent event into the log, merging reasoning deltas
// into existing entries by item identity and appending everything else.
func (l *Log) Apply(ev *models.AgentEvent) {
	if ev == nil {
		return
	}

	switch ev.Method {
	case MethodReasoningDelta:
		delta := paramString(ev.Params, "delta", "text")
		itemID := ev.ItemID()
		if idx, ok := l.itemIndex[itemID]; ok && itemID != "" {
			l.entries[idx].Summary += delta
			return
		}
		l.append(models.TimelineEntry{
			Title:   "Thinking",
			Summary: delta,
			Kind:    models.KindThinking,
			ItemID:  itemID,
			Method:  ev.Method,
		})

	case MethodReasoningSectionBreak:
		// Paragraph break in an existing thinking entry; never creates one
		itemID := ev.ItemID()
		if idx, ok := l.itemIndex[itemID]; ok && itemID != "" {
			l.entries[idx].Summary += "\n\n"
		}

	case MethodMessageDelta:
		l.append(models.TimelineEntry{
			Title:   "Agent message",
			Summary: paramString(ev.Params, "delta", "text"),
			Kind:    models.KindResponse,
			ItemID:  ev.ItemID(),
			Method:  ev.Method,
		})

	case MethodItemCompleted:
		l.append(itemCompletedEntry(ev))

	case MethodExecApproval:
		l.append(models.TimelineEntry{
			Title:   "Approval required",
			Summary: argvString(ev.Params["command"]),
			Detail:  paramString(ev.Params, "cwd"),
			Kind:    models.KindCommand,
			ItemID:  ev.ItemID(),
			Method:  ev.Method,
		})

	case MethodPatchApproval:
		l.append(models.TimelineEntry{
			Title:   "Approval required",
			Summary: changedPaths(ev.Params),
			Kind:    models.KindFile,
			ItemID:  ev.ItemID(),
			Method:  ev.Method,
		})

	case MethodTurnCompleted:
		l.append(models.TimelineEntry{
			Title:   "Turn completed",
			Summary: paramString(ev.Params, "summary"),
			Kind:    models.KindStatus,
			ItemID:  ev.ItemID(),
			Method:  ev.Method,
		})

	case MethodError:
		l.append(models.TimelineEntry{
			Title:   "Agent error",
			Summary: errorText(ev.Params),
			Kind:    models.KindError,
			ItemID:  ev.ItemID(),
			Method:  ev.Method,
		})

	default:
		l.append(models.TimelineEntry{
			Title:   ev.Method,
			Summary: paramString(ev.Params, "message", "text"),
			Kind:    models.KindEvent,
			ItemID:  ev.ItemID(),
			Method:  ev.Method,
		})
	}
}

func (l *Log) append(entry models.TimelineEntry) {
	entry.ID = uuid.NewString()
	entry.Time = l.now()
	entry.Seq = l.seq
	l.seq++

	l.entries = append(l.entries, entry)
	if entry.Kind == models.KindThinking && entry.ItemID != "" {
		l.itemIndex[entry.ItemID] = len(l.entries) - 1
	}

	if len(l.entries) > l.maxEntries {
		l.truncate()
	}
}

// truncate keeps the most recent trimTo entries and rebuilds the item
// index from scratch. Stale indices into evicted entries are exactly the
// bug class this guards against.
func (l *Log) truncate() {
	keep := l.entries[len(l.entries)-l.trimTo:]
	l.entries = make([]models.TimelineEntry, len(keep))
	copy(l.entries, keep)

	l.itemIndex = make(map[string]int)
	for i, entry := range l.entries {
		if entry.Kind == models.KindThinking && entry.ItemID != "" {
			l.itemIndex[entry.ItemID] = i
		}
	}
}

// Compact renders a bounded textual summary of the log for the condensed
// display mode: at most maxActions most-recent actions, at most maxChars
// characters. Read-only; merging always works off the full entry list.
func (l *Log) Compact(maxActions, maxChars int) string {
	if maxActions <= 0 {
		maxActions = 6
	}
	if maxChars <= 0 {
		maxChars = 280
	}

	var actions []string
	for i := len(l.entries) - 1; i >= 0 && len(actions) < maxActions; i-- {
		entry := l.entries[i]
		if entry.Kind == models.KindThinking {
			continue
		}
		line := entry.Title
		if entry.Summary != "" {
			line += ": " + firstLine(entry.Summary)
		}
		actions = append(actions, line)
	}

	// Restore chronological order
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}

	return truncateEllipsis(strings.Join(actions, "; "), maxChars)
}

// truncateEllipsis cuts text to at most max bytes, backing up to a rune
// boundary and appending "..." when anything was cut.
func truncateEllipsis(text string, max int) string {
	if len(text) <= max {
		return text
	}
	if max <= 3 {
		return "..."[:max]
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// MergeByTime merges independently-timestamped entry sources into one
// timeline ordered by timestamp, with sequence number as the stable
// tie-break. Arrival order is deliberately not trusted across sources.
func MergeByTime(sources ...[]models.TimelineEntry) []models.TimelineEntry {
	var merged []models.TimelineEntry
	for _, source := range sources {
		merged = append(merged, source...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Time.Equal(merged[j].Time) {
			return merged[i].Time.Before(merged[j].Time)
		}
		return merged[i].Seq < merged[j].Seq
	})
	return merged
}

func itemCompletedEntry(ev *models.AgentEvent) models.TimelineEntry {
	item := ev.Item()
	itemType, _ := item["type"].(string)

	entry := models.TimelineEntry{
		ItemID: ev.ItemID(),
		Method: ev.Method,
	}

	switch itemType {
	case ItemCommandExecution:
		entry.Title = "Ran command"
		entry.Kind = models.KindCommand
		entry.Summary = argvString(item["command"])
		if code, ok := item["exit_code"].(float64); ok {
			entry.Detail = fmt.Sprintf("exit %d", int(code))
		}
	case ItemFileChange:
		entry.Title = "Changed files"
		entry.Kind = models.KindFile
		entry.Summary = changedPaths(item)
	case ItemToolCall:
		entry.Title = "Tool call"
		entry.Kind = models.KindTool
		server := paramString(item, "server")
		tool := paramString(item, "tool")
		if server != "" && tool != "" {
			entry.Summary = server + "." + tool
		} else {
			entry.Summary = server + tool
		}
		entry.Detail = paramString(item, "status")
	case ItemAgentMessage:
		entry.Title = "Agent message"
		entry.Kind = models.KindResponse
		entry.Summary = paramString(item, "text")
	default:
		entry.Title = "Item completed"
		entry.Kind = models.KindEvent
		entry.Summary = itemType
	}
	return entry
}

// errorText extracts message and additionalDetails, concatenating them
// when both are present and differ.
func errorText(params map[string]interface{}) string {
	message := paramString(params, "message")
	details := paramString(params, "additional_details", "additionalDetails")
	if message == "" {
		return details
	}
	if details != "" && details != message {
		return message + ": " + details
	}
	return message
}

// changedPaths joins the affected paths of a file-change payload.
func changedPaths(m map[string]interface{}) string {
	var paths []string
	if changes, ok := m["changes"].([]interface{}); ok {
		for _, change := range changes {
			if cm, ok := change.(map[string]interface{}); ok {
				if path := paramString(cm, "path"); path != "" {
					paths = append(paths, path)
				}
			} else if s, ok := change.(string); ok {
				paths = append(paths, s)
			}
		}
	}
	if raw, ok := m["paths"].([]interface{}); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				paths = append(paths, s)
			}
		}
	}
	return strings.Join(paths, ", ")
}

// argvString renders a command argv joined by spaces; a plain string
// command passes through unchanged.
func argvString(v interface{}) string {
	switch cmd := v.(type) {
	case string:
		return cmd
	case []interface{}:
		var argv []string
		for _, arg := range cmd {
			if s, ok := arg.(string); ok {
				argv = append(argv, s)
			}
		}
		return strings.Join(argv, " ")
	}
	return ""
}

func paramString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
