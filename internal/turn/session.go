package turn

import (
	"context"
	"sync"
	"time"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/history"
	"github.com/lucky401/codex-autorunner-sub004/internal/logger"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/payload"
	"github.com/lucky401/codex-autorunner-sub004/internal/recovery"
	"github.com/lucky401/codex-autorunner-sub004/internal/stream"
	"github.com/lucky401/codex-autorunner-sub004/internal/timeline"
)

// Status is the turn state machine state. Transitions are monotonic within
// one turn: idle -> running -> {done | error | interrupted}. Only an
// explicit new turn leaves a terminal state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusDone        Status = "done"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
)

// TurnOptions carries per-turn overrides.
type TurnOptions struct {
	Agent string
	Model string
}

// Snapshot is the immutable render-model projection of a session, handed
// to the change subscriber. Consumers must never mutate session state
// through it; everything here is a copy.
type Snapshot struct {
	Target     models.Target
	Status     Status
	StatusText string
	StreamText string
	Err        string
	Events     []models.TimelineEntry
	Messages   []models.Message
	LastUpdate *models.Envelope
}

// Session owns one chat conversation with the agent for a single target:
// it issues turns, accumulates streamed text, tracks status, and resolves
// to a terminal state. Callers serialize turns per target; the mutex
// protects snapshots taken while a turn is streaming.
type Session struct {
	target  models.Target
	client  *api.Client
	history *history.Store
	cfg     Config

	mu         sync.Mutex
	status     Status
	statusText string
	streamText string
	errText    string
	events     *timeline.Log
	messages   []models.Message
	token      *CancelToken
	lastUpdate *models.Envelope

	onChange func(Snapshot)
	flash    func(message, kind string)
}

func newSession(target models.Target, client *api.Client, store *history.Store, cfg Config) *Session {
	return &Session{
		target:  target,
		client:  client,
		history: store,
		cfg:     cfg,
		status:  StatusIdle,
		events:  timeline.NewLog(cfg.MaxEvents, cfg.TrimEventsTo),
	}
}

// Target returns the target this session is bound to.
func (s *Session) Target() models.Target { return s.target }

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	messages := make([]models.Message, len(s.messages))
	copy(messages, s.messages)
	return Snapshot{
		Target:     s.target,
		Status:     s.status,
		StatusText: s.statusText,
		StreamText: s.streamText,
		Err:        s.errText,
		Events:     s.events.Entries(),
		Messages:   messages,
		LastUpdate: s.lastUpdate,
	}
}

func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.Snapshot())
}

// CompactEvents renders the condensed event summary for surfaces
// configured with the compact flag.
func (s *Session) CompactEvents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Compact(s.cfg.CompactActions, s.cfg.CompactChars)
}

func (s *Session) historyKey() string {
	return s.cfg.HistoryPrefix + s.target.Key()
}

// Start issues one turn: it cancels any prior in-flight turn for this
// session, resets the event log, records the user message, then drives the
// frame stream to a terminal state. Transport failures surface through the
// same error path as protocol-level error frames.
func (s *Session) Start(ctx context.Context, message string, opts TurnOptions) error {
	s.mu.Lock()
	if s.token != nil {
		s.token.Cancel()
	}
	token := newCancelToken()
	s.token = token
	s.status = StatusRunning
	s.statusText = "queued"
	s.streamText = ""
	s.errText = ""
	s.events.Reset()
	userMessage := models.Message{Role: "user", Content: message, Time: time.Now()}
	s.messages = append(s.messages, userMessage)
	s.mu.Unlock()

	if err := s.history.Append(s.historyKey(), userMessage); err != nil {
		logger.Warnf("Failed to persist user message for %s: %v", s.target, err)
	}
	s.notify()

	body := map[string]interface{}{"message": message}
	if opts.Agent != "" {
		body["agent"] = opts.Agent
	}
	if opts.Model != "" {
		body["model"] = opts.Model
	}

	rc, err := s.client.Chat(ctx, s.target, body)
	if err != nil {
		s.fail(err.Error())
		return err
	}
	defer rc.Close()

	scanErr := stream.Scan(ctx, rc, func(frame models.Frame) bool {
		if token.Cancelled() {
			return false
		}
		return s.handleFrame(frame)
	})
	if token.Cancelled() {
		return nil
	}
	if scanErr != nil {
		s.fail(scanErr.Error())
		return scanErr
	}

	// Transport closed without an explicit terminal frame: treat the close
	// itself as completion.
	s.mu.Lock()
	stillRunning := s.status == StatusRunning
	s.mu.Unlock()
	if stillRunning {
		s.finishTurn("done")
	}
	return nil
}

// handleFrame dispatches one decoded frame. Returns false once the turn
// has reached a terminal state; later frames are not processed.
func (s *Session) handleFrame(frame models.Frame) bool {
	switch frame.Event {
	case models.FrameStatus:
		text := statusText(payload.Parse(frame.Data))
		if text != "" {
			s.mu.Lock()
			s.statusText = text
			s.mu.Unlock()
			s.notify()
		}
		return true

	case models.FrameToken:
		text := tokenText(payload.Parse(frame.Data))
		s.mu.Lock()
		s.streamText += text
		if s.statusText != "streaming" {
			s.statusText = "streaming"
		}
		s.mu.Unlock()
		s.notify()
		return true

	case models.FrameUpdate:
		env := payload.ParseEnvelope(payload.Parse(frame.Data))
		s.mu.Lock()
		s.lastUpdate = env
		s.mu.Unlock()
		s.notify()
		return true

	case models.FrameEvent, models.FrameAppServer:
		ev := payload.AgentEventFromValue(payload.Parse(frame.Data))
		if ev == nil {
			// Undecodable frame: drop it, keep the stream alive
			logger.Warnf("Dropping unparseable %s frame for %s", frame.Event, s.target)
			return true
		}
		s.mu.Lock()
		s.events.Apply(ev)
		s.mu.Unlock()
		s.notify()
		return true

	case models.FrameError:
		detail := errorDetail(frame.Data)
		s.fail(detail)
		return false

	case models.FrameInterrupted:
		s.mu.Lock()
		s.status = StatusInterrupted
		s.statusText = "interrupted"
		s.errText = ""
		s.mu.Unlock()
		s.notify()
		return false

	case models.FrameDone, models.FrameFinish:
		s.finishTurn("done")
		return false

	default:
		logger.Debugf("Ignoring unknown frame event %q", frame.Event)
		return true
	}
}

// finishTurn resolves the turn as done and flushes the accumulated stream
// text into the response history.
func (s *Session) finishTurn(statusText string) {
	s.mu.Lock()
	s.status = StatusDone
	s.statusText = statusText
	response := s.streamText
	var persisted *models.Message
	if response != "" {
		msg := models.Message{Role: "assistant", Content: response, Time: time.Now()}
		s.messages = append(s.messages, msg)
		persisted = &msg
	}
	s.mu.Unlock()

	if persisted != nil {
		if err := s.history.Append(s.historyKey(), *persisted); err != nil {
			logger.Warnf("Failed to persist assistant message for %s: %v", s.target, err)
		}
	}
	s.notify()
}

// fail resolves the turn as an error, records the message as the turn's
// response entry, and surfaces it through the notification collaborator.
func (s *Session) fail(detail string) {
	if detail == "" {
		detail = "turn failed"
	}

	s.mu.Lock()
	s.status = StatusError
	s.statusText = "error"
	s.errText = detail
	msg := models.Message{Role: "assistant", Content: detail, Time: time.Now()}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if err := s.history.Append(s.historyKey(), msg); err != nil {
		logger.Warnf("Failed to persist error message for %s: %v", s.target, err)
	}
	if s.flash != nil {
		s.flash(detail, "error")
	}
	s.notify()
}

// Cancel invalidates the current turn's token so that no further frames
// are processed, then notifies the backend to interrupt server-side work.
// The interrupt request is best effort; nobody waits on it.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	interrupted := false
	if s.status == StatusRunning {
		s.status = StatusInterrupted
		s.statusText = "interrupted"
		s.errText = ""
		interrupted = true
	}
	s.mu.Unlock()

	if token != nil {
		token.Cancel()
	}
	if interrupted {
		target := s.target
		client := s.client
		recovery.SafeGo("interrupt-"+target.Key(), func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := client.Interrupt(ctx, target); err != nil {
				logger.Debugf("Interrupt request for %s failed: %v", target, err)
			}
		})
		s.notify()
	}
}

// reset clears the session back to idle with the given history.
func (s *Session) reset(messages []models.Message) {
	s.mu.Lock()
	if s.token != nil {
		s.token.Cancel()
		s.token = nil
	}
	s.status = StatusIdle
	s.statusText = ""
	s.streamText = ""
	s.errText = ""
	s.lastUpdate = nil
	s.events.Reset()
	s.messages = messages
	s.mu.Unlock()
}

func statusText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		for _, key := range []string{"status", "text", "message"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func tokenText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		for _, key := range []string{"text", "token", "delta"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
	}
	return ""
}

func errorDetail(data string) string {
	env := payload.ParseEnvelope(payload.Parse(data))
	if env.Detail != "" {
		return env.Detail
	}
	if env.AgentMessage != "" {
		return env.AgentMessage
	}
	return data
}
