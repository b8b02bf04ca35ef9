package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

func TestTargetPath(t *testing.T) {
	assert.Equal(t, "/v1/targets/document/readme/chat",
		TargetPath(models.Target{Kind: models.TargetDocument, ID: "readme"}, "/chat"))

	// Workspace file paths are escaped into a single path segment
	assert.Equal(t, "/v1/targets/workspace/src%2Fmain.go/draft",
		TargetPath(models.Target{Kind: models.TargetWorkspace, ID: "src/main.go"}, "/draft"))
}

func TestRequestParsesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"status":"ok","content":"# Doc"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "secret")
	value, err := client.Request(context.Background(), http.MethodGet, "/v1/x", nil)
	require.NoError(t, err)

	m, ok := value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "# Doc", m["content"])
}

func TestRequestErrorMessageExtraction(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"DetailField", http.StatusConflict, `{"detail":"draft is stale"}`, "draft is stale"},
		{"ErrorField", http.StatusBadRequest, `{"error":"bad target"}`, "bad target"},
		{"PlainText", http.StatusServiceUnavailable, "agent offline", "agent offline"},
		{"EmptyBody", http.StatusInternalServerError, "", "Internal Server Error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			t.Cleanup(server.Close)

			client := NewClient(server.URL, "")
			_, err := client.Request(context.Background(), http.MethodGet, "/v1/x", nil)

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.status, te.Status)
			assert.Equal(t, tc.message, te.Message)
		})
	}
}

func TestStreamSetsEventStreamAccept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "")
	rc, err := client.Stream(context.Background(), http.MethodPost, "/v1/x", map[string]string{"message": "hi"})
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "event: done")
}

func TestStreamNon200IsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"detail":"turn already running"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "")
	_, err := client.Stream(context.Background(), http.MethodPost, "/v1/x", nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.Status)
	assert.Equal(t, "turn already running", te.Message)
}

func TestConnectionFailureIsTransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "")
	_, err := client.Request(context.Background(), http.MethodGet, "/v1/x", nil)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.Status)
}

func TestContentRoundTrip(t *testing.T) {
	target := models.Target{Kind: models.TargetDocument, ID: "readme"}
	var stored string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/targets/document/readme/content", r.URL.Path)
		switch r.Method {
		case http.MethodPut:
			var req struct {
				Content string `json:"content"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			stored = req.Content
			fmt.Fprint(w, `{"status":"ok"}`)
		case http.MethodGet:
			body, _ := json.Marshal(map[string]string{"status": "ok", "content": stored})
			w.Write(body)
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "")
	require.NoError(t, client.ReplaceContent(context.Background(), target, "# Doc\n"))

	content, err := client.Content(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "# Doc\n", content)
}

func TestModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/codex/models", r.URL.Path)
		fmt.Fprint(w, `{"models":["gpt-5","gpt-5-codex"]}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "")
	list, err := client.Models(context.Background(), "codex")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-5", "gpt-5-codex"}, list)
}
