package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"walletd/internal/core"
)

// FileConversationStore keeps the conversation snapshot as a single JSON file
// replaced atomically on every save.
type FileConversationStore struct {
	path string
}

func NewFileConversationStore(path string) *FileConversationStore {
	return &FileConversationStore{path: path}
}

func (f *FileConversationStore) SaveConversations(ctx context.Context, conversations []core.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conversations == nil {
		conversations = []core.Conversation{}
	}
	data, err := json.MarshalIndent(conversations, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	return atomicWriteFile(f.path, data, 0600)
}

func (f *FileConversationStore) LoadConversations(ctx context.Context) ([]core.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	var conversations []core.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
	}
	return conversations, nil
}

// atomicWriteFile writes to a temp file in the target directory, fsyncs it and
// renames it over path. Readers see either the old or the new file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".snapshot-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync data to disk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
