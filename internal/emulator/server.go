package emulator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/lucky401/codex-autorunner-sub004/internal/draft"
	"github.com/lucky401/codex-autorunner-sub004/internal/logger"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/timeline"
)

// Server is a development emulator of the agent server: it speaks the
// full streaming frame catalog against an in-memory content store, so the
// client core can be exercised end to end without a real agent. The
// ?escaped=1 query flag reproduces the escaped-newline failure mode.
type Server struct {
	mu       sync.Mutex
	contents map[string]string
	drafts   map[string]*models.Draft
	inboxSeq int
	dispatch []models.TimelineEntry
	replies  []models.TimelineEntry
}

func NewServer() *Server {
	return &Server{
		contents: make(map[string]string),
		drafts:   make(map[string]*models.Draft),
	}
}

// App builds the fiber application with all emulated routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Post("/v1/targets/:kind/:id/chat", s.handleChat)
	app.Post("/v1/targets/:kind/:id/interrupt", s.handleInterrupt)
	app.Get("/v1/targets/:kind/:id/content", s.handleGetContent)
	app.Put("/v1/targets/:kind/:id/content", s.handlePutContent)
	app.Get("/v1/targets/:kind/:id/draft", s.handleGetDraft)
	app.Post("/v1/targets/:kind/:id/draft/apply", s.handleApplyDraft)
	app.Post("/v1/targets/:kind/:id/draft/discard", s.handleDiscardDraft)
	app.Get("/v1/agents/:agent/models", s.handleModels)
	app.Get("/v1/inbox/dispatches", s.handleDispatches)
	app.Get("/v1/inbox/replies", s.handleReplies)

	return app
}

// Listen starts the emulator on the given address.
func (s *Server) Listen(addr string) error {
	logger.Infof("🧪 Agent emulator listening on %s", addr)
	return s.App().Listen(addr)
}

func targetKey(c *fiber.Ctx) string {
	return c.Params("kind") + ":" + c.Params("id")
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req struct {
		Message string `json:"message"`
		Agent   string `json:"agent"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "invalid request body"})
	}

	key := targetKey(c)
	escaped := c.Query("escaped") == "1"
	failing := strings.Contains(req.Message, "!fail")

	s.mu.Lock()
	current := s.contents[key]
	proposed := current
	if proposed != "" {
		proposed += "\n\n"
	}
	proposed += "## Agent note\n" + req.Message
	pending := &models.Draft{
		Content:      proposed,
		Patch:        fmt.Sprintf("@@ append @@\n+## Agent note\n+%s", req.Message),
		BaseHash:     draft.HashContent(current),
		AgentMessage: "Proposed an update based on your request.",
		CreatedAt:    time.Now(),
	}
	s.drafts[key] = pending
	s.inboxSeq++
	s.dispatch = append(s.dispatch, models.TimelineEntry{
		ID: uuid.NewString(), Title: "Dispatch", Summary: req.Message,
		Kind: models.KindEvent, Time: time.Now(), Seq: s.inboxSeq,
	})
	s.mu.Unlock()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		send := func(event, data string) bool {
			frame := fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
			if escaped {
				frame = strings.ReplaceAll(frame, "\n", `\n`)
			}
			if _, err := w.WriteString(frame); err != nil {
				return false
			}
			return w.Flush() == nil
		}
		sendJSON := func(event string, v interface{}) bool {
			b, _ := json.Marshal(v)
			return send(event, string(b))
		}
		event := func(method string, params interface{}) bool {
			return sendJSON("event", fiber.Map{"method": method, "params": params})
		}

		if !sendJSON("status", fiber.Map{"status": "queued"}) {
			return
		}

		itemID := uuid.NewString()
		thinking := []string{"Reading the current content.", " Drafting a follow-up section."}
		for i, delta := range thinking {
			if i > 0 && !event(timeline.MethodReasoningSectionBreak, fiber.Map{"itemId": itemID}) {
				return
			}
			if !event(timeline.MethodReasoningDelta, fiber.Map{"itemId": itemID, "delta": delta}) {
				return
			}
		}

		if failing {
			sendJSON("error", fiber.Map{"detail": "agent refused the request"})
			return
		}

		if !event(timeline.MethodItemCompleted, fiber.Map{"item": fiber.Map{
			"id": uuid.NewString(), "type": timeline.ItemCommandExecution,
			"command": []string{"rg", "--count", "TODO"}, "exit_code": 0,
		}}) {
			return
		}

		reply := "Drafted an update, review it when ready."
		for _, token := range splitTokens(reply) {
			if !sendJSON("token", fiber.Map{"text": token}) {
				return
			}
		}

		if !sendJSON("update", fiber.Map{
			"status":        "ok",
			"agent_message": pending.AgentMessage,
			"drafts": fiber.Map{
				"content":       pending.Content,
				"patch":         pending.Patch,
				"base_hash":     pending.BaseHash,
				"agent_message": pending.AgentMessage,
				"created_at":    pending.CreatedAt.Format(time.RFC3339),
			},
		}) {
			return
		}

		event(timeline.MethodTurnCompleted, fiber.Map{"summary": "turn finished"})
		sendJSON("done", fiber.Map{"status": "ok"})

		s.mu.Lock()
		s.inboxSeq++
		s.replies = append(s.replies, models.TimelineEntry{
			ID: uuid.NewString(), Title: "Reply", Summary: reply,
			Kind: models.KindResponse, Time: time.Now(), Seq: s.inboxSeq,
		})
		s.mu.Unlock()
	}))

	return nil
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	logger.Debugf("Interrupt requested for %s", targetKey(c))
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleGetContent(c *fiber.Ctx) error {
	s.mu.Lock()
	content := s.contents[targetKey(c)]
	s.mu.Unlock()
	return c.JSON(fiber.Map{"status": "ok", "content": content})
}

func (s *Server) handlePutContent(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "invalid request body"})
	}
	s.mu.Lock()
	s.contents[targetKey(c)] = req.Content
	s.mu.Unlock()
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleGetDraft(c *fiber.Ctx) error {
	s.mu.Lock()
	pending := s.drafts[targetKey(c)]
	s.mu.Unlock()

	if pending == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"drafts": fiber.Map{
			"content":       pending.Content,
			"patch":         pending.Patch,
			"base_hash":     pending.BaseHash,
			"agent_message": pending.AgentMessage,
			"created_at":    pending.CreatedAt.Format(time.RFC3339),
		},
	})
}

func (s *Server) handleApplyDraft(c *fiber.Ctx) error {
	var req struct {
		Force bool `json:"force"`
	}
	_ = c.BodyParser(&req)

	key := targetKey(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.drafts[key]
	if pending == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "no pending draft"})
	}
	if !req.Force && pending.BaseHash != draft.HashContent(s.contents[key]) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"detail": "draft is stale"})
	}

	s.contents[key] = pending.Content
	delete(s.drafts, key)
	return c.JSON(fiber.Map{"status": "ok", "content": s.contents[key]})
}

func (s *Server) handleDiscardDraft(c *fiber.Ctx) error {
	s.mu.Lock()
	delete(s.drafts, targetKey(c))
	s.mu.Unlock()
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleModels(c *fiber.Ctx) error {
	agent := c.Params("agent")
	catalogs := map[string][]string{
		"codex":  {"gpt-5.2-codex", "gpt-5.2-codex-mini"},
		"claude": {"claude-sonnet-4-5", "claude-haiku-4-5"},
	}
	list, ok := catalogs[agent]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "unknown agent"})
	}
	return c.JSON(fiber.Map{"models": list})
}

func (s *Server) handleDispatches(c *fiber.Ctx) error {
	s.mu.Lock()
	entries := append([]models.TimelineEntry(nil), s.dispatch...)
	s.mu.Unlock()
	return c.JSON(fiber.Map{"entries": entries})
}

func (s *Server) handleReplies(c *fiber.Ctx) error {
	s.mu.Lock()
	entries := append([]models.TimelineEntry(nil), s.replies...)
	s.mu.Unlock()
	return c.JSON(fiber.Map{"entries": entries})
}

// splitTokens chops a reply into word-sized stream tokens.
func splitTokens(text string) []string {
	words := strings.SplitAfter(text, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
