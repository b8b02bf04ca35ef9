package emulator

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/stream"
)

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(data)
}

func decodeFrames(t *testing.T, raw string) []models.Frame {
	t.Helper()
	decoder := stream.NewDecoder()
	frames := decoder.Feed([]byte(raw))
	return append(frames, decoder.Flush()...)
}

func eventNames(frames []models.Frame) []string {
	var names []string
	for _, f := range frames {
		names = append(names, f.Event)
	}
	return names
}

func TestChatStreamShape(t *testing.T) {
	app := NewServer().App()

	resp, body := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat",
		`{"message":"add a summary"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := decodeFrames(t, body)
	names := eventNames(frames)
	assert.Equal(t, "status", names[0])
	assert.Equal(t, "done", names[len(names)-1])
	assert.Contains(t, names, "token")
	assert.Contains(t, names, "update")
	assert.Contains(t, names, "event")
}

func TestChatEscapedModeRoundTrips(t *testing.T) {
	app := NewServer().App()

	_, plain := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat",
		`{"message":"hello"}`)
	_, escaped := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat?escaped=1",
		`{"message":"hello"}`)

	assert.NotContains(t, escaped, "\n")
	assert.Equal(t, eventNames(decodeFrames(t, plain)), eventNames(decodeFrames(t, escaped)))
}

func TestChatFailureMarker(t *testing.T) {
	app := NewServer().App()

	_, body := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat",
		`{"message":"please !fail"}`)

	frames := decodeFrames(t, body)
	names := eventNames(frames)
	assert.Contains(t, names, "error")
	assert.NotContains(t, names, "done")
	assert.NotContains(t, names, "token")
}

func TestContentRoundTrip(t *testing.T) {
	app := NewServer().App()

	resp, _ := doJSON(t, app, http.MethodPut, "/v1/targets/document/readme/content",
		`{"content":"# Original"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := doJSON(t, app, http.MethodGet, "/v1/targets/document/readme/content", "")
	assert.Contains(t, body, "# Original")
}

func TestDraftLifecycle(t *testing.T) {
	app := NewServer().App()

	doJSON(t, app, http.MethodPut, "/v1/targets/document/readme/content", `{"content":"# Doc"}`)
	doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat", `{"message":"extend it"}`)

	_, body := doJSON(t, app, http.MethodGet, "/v1/targets/document/readme/draft", "")
	assert.Contains(t, body, "drafts")
	assert.Contains(t, body, "Agent note")

	// Content unchanged since the turn; apply succeeds without force
	resp, body := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/draft/apply", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Agent note")

	// Draft is gone after apply
	resp, _ = doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/draft/apply", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDraftStaleApplyNeedsForce(t *testing.T) {
	app := NewServer().App()

	doJSON(t, app, http.MethodPut, "/v1/targets/document/readme/content", `{"content":"# Doc"}`)
	doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat", `{"message":"extend it"}`)

	// Content moves on underneath the draft
	doJSON(t, app, http.MethodPut, "/v1/targets/document/readme/content", `{"content":"# Doc v2"}`)

	resp, body := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/draft/apply", `{}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "stale")

	resp, _ = doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/draft/apply", `{"force":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDraftDiscard(t *testing.T) {
	app := NewServer().App()

	doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/chat", `{"message":"extend it"}`)
	resp, _ := doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/draft/discard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/v1/targets/document/readme/draft/apply", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModelsEndpoint(t *testing.T) {
	app := NewServer().App()

	resp, body := doJSON(t, app, http.MethodGet, "/v1/agents/codex/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "gpt-5.2-codex")

	resp, _ = doJSON(t, app, http.MethodGet, "/v1/agents/unknown/models", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInboxAccumulates(t *testing.T) {
	app := NewServer().App()

	doJSON(t, app, http.MethodPost, "/v1/targets/ticket/42/chat", `{"message":"triage this"}`)

	_, body := doJSON(t, app, http.MethodGet, "/v1/inbox/dispatches", "")
	assert.Contains(t, body, "triage this")

	_, body = doJSON(t, app, http.MethodGet, "/v1/inbox/replies", "")
	assert.Contains(t, body, "Drafted an update")
}
