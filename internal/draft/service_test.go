package draft

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

var testTarget = models.Target{Kind: models.TargetDocument, ID: "readme"}

type fakeStore struct {
	content string
}

func (s *fakeStore) Load(ctx context.Context, target models.Target) (string, error) {
	return s.content, nil
}

// draftServer serves the draft endpoints with canned responses and counts
// apply/discard calls.
type draftServer struct {
	draftBody   string
	applyBody   string
	applyStatus int
	applyCalls  int
	discards    int
}

func (d *draftServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/targets/document/readme/draft", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, d.draftBody)
	})
	mux.HandleFunc("POST /v1/targets/document/readme/draft/apply", func(w http.ResponseWriter, r *http.Request) {
		d.applyCalls++
		if d.applyStatus != 0 {
			w.WriteHeader(d.applyStatus)
		}
		fmt.Fprint(w, d.applyBody)
	})
	mux.HandleFunc("POST /v1/targets/document/readme/draft/discard", func(w http.ResponseWriter, r *http.Request) {
		d.discards++
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	return mux
}

func newTestService(t *testing.T, backend *draftServer, store ContentStore) *Service {
	t.Helper()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)
	return NewService(api.NewClient(server.URL, ""), store)
}

func TestHashContent(t *testing.T) {
	assert.Equal(t, "", HashContent(""))
	assert.Len(t, HashContent("hello"), 64)
	assert.Equal(t, HashContent("hello"), HashContent("hello"))
	assert.NotEqual(t, HashContent("hello"), HashContent("hello "))
}

func TestStaleness(t *testing.T) {
	cases := []struct {
		name     string
		baseHash string
		content  string
		stale    bool
	}{
		{"MatchingHashes", HashContent("same"), "same", false},
		{"DivergedContent", HashContent("old"), "new", true},
		{"BothEmpty", "", "", false},
		{"EmptyBaseNonEmptyContent", "", "something", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &draftServer{
				draftBody: fmt.Sprintf(`{"drafts":{"content":"# new","base_hash":%q}}`, tc.baseHash),
			}
			service := newTestService(t, backend, &fakeStore{content: tc.content})

			draft, err := service.Fetch(context.Background(), testTarget)
			require.NoError(t, err)
			require.NotNil(t, draft)
			assert.Equal(t, tc.stale, draft.Stale)
			assert.Equal(t, HashContent(tc.content), draft.CurrentHash)
		})
	}
}

func TestFetchNoDraft(t *testing.T) {
	backend := &draftServer{draftBody: `{"status":"ok","drafts":null}`}
	service := newTestService(t, backend, &fakeStore{})

	draft, err := service.Fetch(context.Background(), testTarget)
	require.NoError(t, err)
	assert.Nil(t, draft)
	assert.Nil(t, service.Pending(testTarget))
}

func TestFetchEnvelopeLevelFallback(t *testing.T) {
	// Older servers put the draft fields on the envelope itself
	backend := &draftServer{
		draftBody: `{"status":"ok","patch":"@@ -1 +1 @@","base_hash":"h1","created_at":"2026-08-30T10:00:00Z"}`,
	}
	service := newTestService(t, backend, &fakeStore{content: "live"})

	draft, err := service.Fetch(context.Background(), testTarget)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "@@ -1 +1 @@", draft.Patch)
	assert.Equal(t, "h1", draft.BaseHash)
	assert.Equal(t, 2026, draft.CreatedAt.Year())
}

func TestFetchRecoversPatchFromMalformedBody(t *testing.T) {
	// Body fails every full parse; the patch key is still salvageable
	backend := &draftServer{
		draftBody: `{"status":"ok","patch":"@@ -1 +1 @@\n-a\n+b",,,`,
	}
	service := newTestService(t, backend, &fakeStore{content: "live"})

	draft, err := service.Fetch(context.Background(), testTarget)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "@@ -1 +1 @@\n-a\n+b", draft.Patch)
}

func TestApplyStaleWithoutForceRejectsBeforeAnyRequest(t *testing.T) {
	backend := &draftServer{
		draftBody: fmt.Sprintf(`{"drafts":{"content":"# new","base_hash":%q}}`, HashContent("old")),
		applyBody: `{"status":"ok"}`,
	}
	store := &fakeStore{content: "live content that moved on"}
	service := newTestService(t, backend, store)

	_, err := service.Fetch(context.Background(), testTarget)
	require.NoError(t, err)

	_, err = service.Apply(context.Background(), testTarget, false)
	var stale *StaleDraftError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, testTarget, stale.Target)
	assert.Equal(t, HashContent("old"), stale.BaseHash)
	assert.Equal(t, HashContent("live content that moved on"), stale.CurrentHash)

	// Rejection happened client-side; the server never saw an apply
	assert.Equal(t, 0, backend.applyCalls)
	assert.NotNil(t, service.Pending(testTarget))
}

func TestApplyStaleWithForceSucceeds(t *testing.T) {
	backend := &draftServer{
		draftBody: fmt.Sprintf(`{"drafts":{"content":"# forced","base_hash":%q}}`, HashContent("old")),
		applyBody: `{"status":"ok","content":"# forced"}`,
	}
	service := newTestService(t, backend, &fakeStore{content: "diverged"})

	content, err := service.Apply(context.Background(), testTarget, true)
	require.NoError(t, err)
	assert.Equal(t, "# forced", content)
	assert.Equal(t, 1, backend.applyCalls)
	assert.Nil(t, service.Pending(testTarget))
}

func TestApplyFreshDraft(t *testing.T) {
	backend := &draftServer{
		draftBody: fmt.Sprintf(`{"drafts":{"content":"# next","base_hash":%q}}`, HashContent("live")),
		applyBody: `{"status":"ok"}`,
	}
	service := newTestService(t, backend, &fakeStore{content: "live"})

	// No response content; the draft's own content is the fallback
	content, err := service.Apply(context.Background(), testTarget, false)
	require.NoError(t, err)
	assert.Equal(t, "# next", content)
	assert.Nil(t, service.Pending(testTarget))
}

func TestApplyWithoutDraft(t *testing.T) {
	backend := &draftServer{draftBody: `{"status":"ok"}`}
	service := newTestService(t, backend, &fakeStore{})

	_, err := service.Apply(context.Background(), testTarget, false)
	assert.True(t, errors.Is(err, ErrNoDraft))
}

func TestApplyServerRejection(t *testing.T) {
	backend := &draftServer{
		draftBody: fmt.Sprintf(`{"drafts":{"content":"# x","base_hash":%q}}`, HashContent("live")),
		applyBody: `{"status":"error","detail":"apply race"}`,
	}
	service := newTestService(t, backend, &fakeStore{content: "live"})

	_, err := service.Apply(context.Background(), testTarget, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply race")
	// The pending draft is kept so the user can retry or discard
	assert.NotNil(t, service.Pending(testTarget))
}

func TestDiscard(t *testing.T) {
	backend := &draftServer{
		draftBody: fmt.Sprintf(`{"drafts":{"content":"# x","base_hash":%q}}`, HashContent("live")),
	}
	service := newTestService(t, backend, &fakeStore{content: "live"})

	_, err := service.Fetch(context.Background(), testTarget)
	require.NoError(t, err)
	require.NotNil(t, service.Pending(testTarget))

	require.NoError(t, service.Discard(context.Background(), testTarget))
	assert.Equal(t, 1, backend.discards)
	assert.Nil(t, service.Pending(testTarget))
}
