package draft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lucky401/codex-autorunner-sub004/internal/api"
	"github.com/lucky401/codex-autorunner-sub004/internal/models"
	"github.com/lucky401/codex-autorunner-sub004/internal/payload"
)

// ErrNoDraft is returned by Apply when no pending draft exists for the
// target. Absence of a draft is not an error on Fetch.
var ErrNoDraft = errors.New("no pending draft")

// StaleDraftError rejects an apply whose base snapshot no longer matches
// the live content. Never auto-resolved: the caller must re-confirm with
// force or discard the draft.
type StaleDraftError struct {
	Target      models.Target
	BaseHash    string
	CurrentHash string
}

func (e *StaleDraftError) Error() string {
	return fmt.Sprintf("draft for %s is stale: content changed since the draft was created", e.Target)
}

// ContentStore loads the live content a draft's staleness is decided
// against. Replacement happens server-side on apply.
type ContentStore interface {
	Load(ctx context.Context, target models.Target) (string, error)
}

type apiContentStore struct {
	client *api.Client
}

func (s *apiContentStore) Load(ctx context.Context, target models.Target) (string, error) {
	return s.client.Content(ctx, target)
}

// HashContent is the staleness hash: sha256 hex over the raw content
// bytes, matching the server. Empty content hashes to the empty string so
// that absence of a hash on both sides reads as "not stale".
func HashContent(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Service fetches, validates, applies, and discards pending drafts,
// deciding staleness by comparing content hashes.
type Service struct {
	client *api.Client
	store  ContentStore
	hash   func(string) string

	mu      sync.Mutex
	pending map[string]*models.Draft
}

// NewService creates a draft service. A nil store falls back to the
// API-backed content store.
func NewService(client *api.Client, store ContentStore) *Service {
	if store == nil {
		store = &apiContentStore{client: client}
	}
	return &Service{
		client:  client,
		store:   store,
		hash:    HashContent,
		pending: make(map[string]*models.Draft),
	}
}

// Fetch retrieves the pending draft for a target and computes its
// staleness against live content. No draft (neither content nor patch in
// the response) returns nil, nil.
func (s *Service) Fetch(ctx context.Context, target models.Target) (*models.Draft, error) {
	value, err := s.client.Request(ctx, http.MethodGet, api.TargetPath(target, "/draft"), nil)
	if err != nil {
		return nil, err
	}

	draft := draftFromResponse(value)
	if draft.Empty() {
		s.setPending(target, nil)
		return nil, nil
	}

	current, err := s.store.Load(ctx, target)
	if err != nil {
		return nil, err
	}
	draft.CurrentHash = s.hash(current)
	draft.Stale = draft.BaseHash != draft.CurrentHash

	s.setPending(target, draft)
	return draft, nil
}

// Reload re-fetches the pending draft, recomputing staleness. Used after
// content may have changed externally.
func (s *Service) Reload(ctx context.Context, target models.Target) (*models.Draft, error) {
	return s.Fetch(ctx, target)
}

// Pending returns the last fetched draft for a target without a network
// round trip.
func (s *Service) Pending(target models.Target) *models.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[target.Key()]
}

// Apply applies the pending draft. A stale draft is rejected before any
// request is issued unless force is set. On success the live content has
// been replaced by the draft's content, the draft is cleared, and the
// resulting content is returned so the caller resynchronizes without a
// second read.
func (s *Service) Apply(ctx context.Context, target models.Target, force bool) (string, error) {
	draft := s.Pending(target)
	if draft == nil {
		fetched, err := s.Fetch(ctx, target)
		if err != nil {
			return "", err
		}
		if fetched == nil {
			return "", ErrNoDraft
		}
		draft = fetched
	}

	current, err := s.store.Load(ctx, target)
	if err != nil {
		return "", err
	}
	currentHash := s.hash(current)
	if draft.BaseHash != currentHash && !force {
		return "", &StaleDraftError{Target: target, BaseHash: draft.BaseHash, CurrentHash: currentHash}
	}

	value, err := s.client.Request(ctx, http.MethodPost, api.TargetPath(target, "/draft/apply"),
		map[string]bool{"force": force})
	if err != nil {
		return "", err
	}
	env := payload.ParseEnvelope(value)
	if !env.OK() && !env.Interrupted() {
		return "", fmt.Errorf("apply failed: %s", env.Detail)
	}

	content := env.Content
	if content == "" {
		content = draft.Content
	}
	s.setPending(target, nil)
	return content, nil
}

// Discard clears the pending draft without mutating live content.
func (s *Service) Discard(ctx context.Context, target models.Target) error {
	_, err := s.client.Request(ctx, http.MethodPost, api.TargetPath(target, "/draft/discard"), nil)
	if err != nil {
		return err
	}
	s.setPending(target, nil)
	return nil
}

func (s *Service) setPending(target models.Target, draft *models.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if draft == nil {
		delete(s.pending, target.Key())
		return
	}
	s.pending[target.Key()] = draft
}

// draftFromResponse builds a draft from a draft-endpoint response,
// falling back to envelope-level content/patch fields for older servers,
// then to targeted field recovery when the body failed a full parse.
func draftFromResponse(value interface{}) *models.Draft {
	env := payload.ParseEnvelope(value)
	if env.Draft != nil {
		return env.Draft
	}
	if env.Content != "" || env.Patch != "" {
		draft := &models.Draft{
			Content:      env.Content,
			Patch:        env.Patch,
			BaseHash:     env.BaseHash,
			AgentMessage: env.AgentMessage,
		}
		if env.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339, env.CreatedAt); err == nil {
				draft.CreatedAt = t
			}
		}
		return draft
	}
	if raw, ok := value.(string); ok {
		if patch, ok := payload.RecoverField(raw, "patch"); ok {
			return &models.Draft{Patch: patch}
		}
	}
	return nil
}
