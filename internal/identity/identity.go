// Package identity хранит запись о текущем пользователе. Запись читается при каждой операции,
// выход из аккаунта виден сразу.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/messenger-client/internal/model"
)

// ErrNotAuthenticated — записи нет или в ней нет id.
var ErrNotAuthenticated = errors.New("identity: user not authenticated")

// Store — источник текущего пользователя.
type Store interface {
	Current(ctx context.Context) (model.User, error)
}

// FileStore хранит пользователя в JSON-файле (аналог localStorage "user").
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Current(ctx context.Context) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.User{}, ErrNotAuthenticated
	}
	if err != nil {
		return model.User{}, fmt.Errorf("identity: read %s: %w", s.path, err)
	}
	var u model.User
	if err := json.Unmarshal(data, &u); err != nil || u.ID == "" {
		return model.User{}, ErrNotAuthenticated
	}
	return u, nil
}

// Save записывает пользователя (вход).
func (s *FileStore) Save(u model.User) error {
	if u.ID == "" {
		return ErrNotAuthenticated
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("identity: mkdir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear удаляет запись (выход).
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryStore — для тестов и встроенного dev-режима.
type MemoryStore struct {
	mu   sync.RWMutex
	user *model.User
}

func NewMemoryStore(u *model.User) *MemoryStore {
	return &MemoryStore{user: u}
}

func (s *MemoryStore) Current(ctx context.Context) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil || s.user.ID == "" {
		return model.User{}, ErrNotAuthenticated
	}
	return *s.user, nil
}

func (s *MemoryStore) Set(u *model.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}
