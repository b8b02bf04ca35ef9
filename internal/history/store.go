package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucky401/codex-autorunner-sub004/internal/models"
)

// Store persists chat history per target key as JSON files under a state
// directory. History survives target switches and process restarts; the
// in-memory event log does not.
type Store struct {
	dir string
}

// NewStore creates a history store rooted at dir.
func NewStore(dir string) *Store {
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("Warning: Failed to create history directory: %v\n", err)
	}
	return &Store{dir: dir}
}

// Load returns the persisted messages for a target key, oldest first.
// A missing file is an empty history, not an error.
func (s *Store) Load(key string) ([]models.Message, error) {
	path := s.filePath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	var messages []models.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return messages, nil
}

// Save overwrites the persisted messages for a target key.
func (s *Store) Save(key string, messages []models.Message) error {
	if key == "" {
		return fmt.Errorf("history key cannot be empty")
	}

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	path := s.filePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// Append loads, appends, and saves in one step.
func (s *Store) Append(key string, message models.Message) error {
	messages, err := s.Load(key)
	if err != nil {
		return err
	}
	return s.Save(key, append(messages, message))
}

// Delete removes the persisted history for a target key.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history file: %w", err)
	}
	return nil
}

func (s *Store) filePath(key string) string {
	sanitized := strings.ReplaceAll(key, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, ":", "_")
	return filepath.Join(s.dir, sanitized+".json")
}
