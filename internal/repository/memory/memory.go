// Package memory provides an in-memory credential store with the same
// semantics as the postgres-backed repository. It backs tests that do not
// need a database.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"procurement/server/internal/model"
	"procurement/server/internal/repository"
)

type Store struct {
	mu     sync.Mutex
	users  map[string]model.User         // keyed by user id
	tokens map[string]model.RefreshToken // keyed by token string
}

func NewStore() *Store {
	return &Store{
		users:  make(map[string]model.User),
		tokens: make(map[string]model.RefreshToken),
	}
}

func (s *Store) CreateUser(_ context.Context, user model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return model.User{}, repository.ErrConflict
		}
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) FindUserByLogin(_ context.Context, identifier string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Emails are stored lowercased; the email comparison folds the identifier
	// the same way, as the postgres store does.
	for _, user := range s.users {
		if user.Email == strings.ToLower(identifier) || user.Username == identifier {
			return user, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Store) FindUserByID(_ context.Context, userID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (s *Store) UpdateUser(_ context.Context, userID string, update model.UserUpdate) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	for id, other := range s.users {
		if id == userID {
			continue
		}
		if update.Username != nil && other.Username == *update.Username {
			return model.User{}, repository.ErrConflict
		}
		if update.Email != nil && other.Email == *update.Email {
			return model.User{}, repository.ErrConflict
		}
	}
	if update.Username != nil {
		user.Username = *update.Username
	}
	if update.Email != nil {
		user.Email = *update.Email
	}
	user.UpdatedAt = time.Now().UTC()
	s.users[userID] = user
	return user, nil
}

func (s *Store) InsertRefreshToken(_ context.Context, userID, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	s.tokens[token] = model.RefreshToken{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return nil
}

func (s *Store) ConsumeRefreshToken(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tokens[token]
	if !ok || !row.ExpiresAt.After(time.Now().UTC()) {
		return "", repository.ErrNotFound
	}
	delete(s.tokens, token)
	return row.UserID, nil
}

func (s *Store) DeleteRefreshToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, token)
	return nil
}

// TokenCount reports how many refresh tokens are currently stored.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// HasToken reports whether the exact token string is stored.
func (s *Store) HasToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}
