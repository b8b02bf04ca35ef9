package payload

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

// Parse decodes one frame's data text (or a whole non-streaming response
// body) into a structured value. When the standard parse fails it applies
// two bounded recovery passes for the escaped-newline failure mode before
// giving up. A string return value is the raw unparsed fallback, not an
// error: callers decide what to do with it.
func Parse(text string) interface{} {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	var value interface{}
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		return value
	}

	// Pass one: real newlines inside string values were meant to be escaped
	repaired := strings.ReplaceAll(trimmed, "\n", `\n`)
	if err := json.Unmarshal([]byte(repaired), &value); err == nil {
		return value
	}

	// Pass two: escapes lost one level somewhere along the way
	repaired = strings.ReplaceAll(trimmed, `\n`, `\\n`)
	if err := json.Unmarshal([]byte(repaired), &value); err == nil {
		return value
	}

	return text
}

// RecoverField pulls a single string field out of text that failed a full
// parse. It tries the same candidate re-escapings as Parse solely to reach
// the field, then falls back to extracting the quoted value directly.
// Intended for the "drafts" and "patch" keys, which are worth salvaging
// even when the surrounding envelope is malformed.
func RecoverField(text, field string) (string, bool) {
	if !strings.Contains(text, `"`+field+`"`) {
		return "", false
	}

	candidates := []string{
		text,
		strings.ReplaceAll(text, "\n", `\n`),
		strings.ReplaceAll(text, `\n`, `\\n`),
	}
	for _, candidate := range candidates {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &m); err == nil {
			if s, ok := m[field].(string); ok {
				return s, true
			}
		}
	}

	pattern := regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	if match := pattern.FindStringSubmatch(text); match != nil {
		return unescapeQuoted(match[1]), true
	}
	return "", false
}

// unescapeQuoted undoes the newline/quote/backslash escapes of a JSON
// string value extracted by regex.
func unescapeQuoted(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i])
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseEnvelope normalizes a parsed payload into the response envelope,
// coalescing the legacy field-name aliases. A raw string (the unparsed
// fallback of Parse) becomes the assistant text of an otherwise empty
// envelope.
func ParseEnvelope(value interface{}) *models.Envelope {
	switch v := value.(type) {
	case string:
		return &models.Envelope{AgentMessage: v}
	case map[string]interface{}:
		env := &models.Envelope{
			Status:       getString(v, "status"),
			Content:      getString(v, "content"),
			Patch:        getString(v, "patch"),
			CreatedAt:    getString(v, "created_at", "createdAt"),
			BaseHash:     getString(v, "base_hash", "baseHash"),
			AgentMessage: getString(v, "response", "message", "agent_message", "agentMessage", "content"),
			Detail:       getString(v, "detail", "error"),
		}
		if updated, ok := v["updated"].([]interface{}); ok {
			for _, u := range updated {
				if s, ok := u.(string); ok {
					env.Updated = append(env.Updated, s)
				}
			}
		}
		env.Draft = DraftFromValue(firstPresent(v, "drafts", "draft"))
		return env
	default:
		return &models.Envelope{}
	}
}

// DraftFromValue builds a Draft from a raw payload value. A payload with
// neither content nor patch yields nil, never an empty struct.
func DraftFromValue(value interface{}) *models.Draft {
	m, ok := value.(map[string]interface{})
	if !ok {
		// Some server versions wrap the pending draft in a one-element list
		if list, ok := value.([]interface{}); ok && len(list) > 0 {
			return DraftFromValue(list[0])
		}
		return nil
	}

	draft := &models.Draft{
		Content:      getString(m, "content"),
		Patch:        getString(m, "patch"),
		BaseHash:     getString(m, "base_hash", "baseHash"),
		AgentMessage: getString(m, "agent_message", "agentMessage"),
	}
	if created := getString(m, "created_at", "createdAt"); created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			draft.CreatedAt = t
		}
	}
	if draft.Empty() {
		return nil
	}
	return draft
}

// AgentEventFromValue decodes an event/app-server frame payload. Returns
// nil when the value does not look like an agent event.
func AgentEventFromValue(value interface{}) *models.AgentEvent {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	method := getString(m, "method")
	if method == "" {
		return nil
	}
	params, _ := m["params"].(map[string]interface{})
	return &models.AgentEvent{Method: method, Params: params}
}

func getString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstPresent(m map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}
