package models

import (
	"fmt"
	"strings"
	"time"
)

// Frame is one decoded unit from a streaming response body.
// Event defaults to "message" when the stream never names one.
type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Streaming frame event names emitted by the agent server.
const (
	FrameStatus      = "status"
	FrameToken       = "token"
	FrameUpdate      = "update"
	FrameEvent       = "event"
	FrameAppServer   = "app-server"
	FrameError       = "error"
	FrameInterrupted = "interrupted"
	FrameDone        = "done"
	FrameFinish      = "finish"
)

// AgentEvent is a decoded agent-server notification carried inside an
// "event" or "app-server" frame.
type AgentEvent struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// ItemID derives the stable item identity used to merge delta events:
// params.itemId when present, otherwise params.item.id.
func (e *AgentEvent) ItemID() string {
	if e.Params == nil {
		return ""
	}
	if id, ok := e.Params["itemId"].(string); ok && id != "" {
		return id
	}
	if item, ok := e.Params["item"].(map[string]interface{}); ok {
		if id, ok := item["id"].(string); ok {
			return id
		}
	}
	return ""
}

// Item returns the nested item object, if any.
func (e *AgentEvent) Item() map[string]interface{} {
	if e.Params == nil {
		return nil
	}
	item, _ := e.Params["item"].(map[string]interface{})
	return item
}

// EntryKind classifies a timeline entry for rendering.
type EntryKind string

const (
	KindThinking EntryKind = "thinking"
	KindCommand  EntryKind = "command"
	KindFile     EntryKind = "file"
	KindTool     EntryKind = "tool"
	KindResponse EntryKind = "response"
	KindStatus   EntryKind = "status"
	KindError    EntryKind = "error"
	KindEvent    EntryKind = "event"
)

// TimelineEntry is the normalized, renderable unit of the agent event log.
type TimelineEntry struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Summary string    `json:"summary"`
	Detail  string    `json:"detail,omitempty"`
	Kind    EntryKind `json:"kind"`
	Time    time.Time `json:"time"`
	Seq     int       `json:"seq"`
	ItemID  string    `json:"itemId,omitempty"`
	Method  string    `json:"method,omitempty"`
}

// Draft is a proposed content change pending user action. A nil *Draft
// means "no draft"; a payload with neither content nor patch is never
// represented as an empty struct.
type Draft struct {
	Content      string    `json:"content,omitempty"`
	Patch        string    `json:"patch,omitempty"`
	BaseHash     string    `json:"base_hash,omitempty"`
	CurrentHash  string    `json:"current_hash,omitempty"`
	AgentMessage string    `json:"agent_message,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	Stale        bool      `json:"stale"`
}

// Empty reports whether the draft carries neither content nor patch.
func (d *Draft) Empty() bool {
	return d == nil || (d.Content == "" && d.Patch == "")
}

// Envelope is the normalized non-streaming response body (also carried by
// "update" frames mid-turn).
type Envelope struct {
	Status       string   `json:"status"`
	Content      string   `json:"content,omitempty"`
	Patch        string   `json:"patch,omitempty"`
	Draft        *Draft   `json:"draft,omitempty"`
	Updated      []string `json:"updated,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
	BaseHash     string   `json:"base_hash,omitempty"`
	AgentMessage string   `json:"agent_message,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

// OK reports whether the envelope represents a successful outcome.
// An absent status is implicitly "ok".
func (e *Envelope) OK() bool {
	return e.Status == "" || e.Status == "ok"
}

// Interrupted reports the distinct non-error terminal outcome.
func (e *Envelope) Interrupted() bool {
	return e.Status == "interrupted"
}

// Message is one persisted chat-history entry.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// TargetKind identifies which chat surface a target belongs to.
type TargetKind string

const (
	TargetDocument  TargetKind = "document"
	TargetTicket    TargetKind = "ticket"
	TargetWorkspace TargetKind = "workspace"
)

// Target is the logical object a chat session is bound to: a document
// kind, a ticket index, or a workspace file path.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// Key returns the stable storage/API key for the target.
func (t Target) Key() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

func (t Target) String() string { return t.Key() }

// ParseTarget parses a "kind:id" key back into a Target.
func ParseTarget(key string) (Target, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || kind == "" || id == "" {
		return Target{}, fmt.Errorf("invalid target key %q (want kind:id)", key)
	}
	switch TargetKind(kind) {
	case TargetDocument, TargetTicket, TargetWorkspace:
		return Target{Kind: TargetKind(kind), ID: id}, nil
	}
	return Target{}, fmt.Errorf("unknown target kind %q", kind)
}
