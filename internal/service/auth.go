package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"procurement/server/internal/auth"
	"procurement/server/internal/crypto"
	"procurement/server/internal/model"
	"procurement/server/internal/repository"
)

// Register creates a user and opens a session for it.
func (s *Service) Register(ctx context.Context, username, email, password, confirmPassword string) (*Session, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if username == "" || email == "" || password == "" || confirmPassword == "" {
		return nil, ErrMissingFields
	}
	if password != confirmPassword {
		return nil, ErrPasswordMismatch
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user, err := s.store.CreateUser(ctx, model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	return s.openSession(ctx, user)
}

// Login authenticates by identifier and password. The identifier matches
// either the email or the username column; the front end sends both through
// the same field.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.store.FindUserByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := crypto.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.openSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is verified, consumed
// in a single atomic store operation, and replaced by a brand-new pair.
// A consumed token can never be redeemed a second time.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	if _, err := auth.ParseRefreshToken(s.cfg.JWTRefreshSecret, refreshToken); err != nil {
		return nil, ErrInvalidRefreshToken
	}

	userID, err := s.store.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return s.openSession(ctx, user)
}

// Logout removes the presented refresh token. It is idempotent and never
// fails the caller: an absent token or a store failure still counts as a
// successful sign-out.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	_ = s.store.DeleteRefreshToken(ctx, refreshToken)
}

// Profile returns the user behind an authenticated session.
func (s *Service) Profile(ctx context.Context, userID string) (model.User, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, err
	}
	return user, nil
}

// UpdateProfile patches username and/or email. Only supplied fields change;
// updated_at is always refreshed by the store.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update model.UserUpdate) (model.User, error) {
	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username == "" {
			update.Username = nil
		} else {
			update.Username = &username
		}
	}
	if update.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*update.Email))
		if email == "" {
			update.Email = nil
		} else {
			update.Email = &email
		}
	}
	if update.Username == nil && update.Email == nil {
		return model.User{}, ErrNothingToUpdate
	}

	user, err := s.store.UpdateUser(ctx, userID, update)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		if errors.Is(err, repository.ErrConflict) {
			return model.User{}, ErrUserExists
		}
		return model.User{}, err
	}
	return user, nil
}

func (s *Service) openSession(ctx context.Context, user model.User) (*Session, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := auth.NewRefreshToken(s.cfg.JWTRefreshSecret, s.cfg.JWTIssuer, s.cfg.RefreshTokenTTL, user.ID)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.store.InsertRefreshToken(ctx, user.ID, refreshToken, s.cfg.RefreshTokenTTL); err != nil {
		return nil, err
	}

	return &Session{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user,
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}
