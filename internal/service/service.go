// Package service implements the auth business logic: registration, login,
// refresh-token rotation, logout, and profile access. Handlers map the
// sentinel errors below to HTTP status codes; any other error is an
// unexpected internal failure.
package service

import (
	"context"
	"errors"
	"time"

	"procurement/server/internal/config"
	"procurement/server/internal/model"
	"procurement/server/internal/repository"
)

const MinPasswordLength = 4

var (
	// ErrMissingFields — a required registration field is empty. 400.
	ErrMissingFields = errors.New("please fill in all fields")
	// ErrPasswordMismatch — password and confirmation differ. 400.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrPasswordTooShort — password below the minimum length. 400.
	ErrPasswordTooShort = errors.New("password must be at least 4 characters")
	// ErrMissingCredentials — login called without identifier or password. 400.
	ErrMissingCredentials = errors.New("please provide email and password")
	// ErrInvalidCredentials — unknown user or wrong password. Deliberately one
	// message for both so callers cannot probe which accounts exist. 401.
	ErrInvalidCredentials = errors.New("invalid email/username or password")
	// ErrUserExists — email or username already taken. 409.
	ErrUserExists = errors.New("a user with this email or username already exists")
	// ErrMissingRefreshToken — refresh called without a token. 401.
	ErrMissingRefreshToken = errors.New("refresh token is missing")
	// ErrInvalidRefreshToken — token absent from the store, expired, or failing
	// signature verification. 401.
	ErrInvalidRefreshToken = errors.New("refresh token is invalid or expired")
	// ErrUserNotFound — the referenced user row no longer exists. 404.
	ErrUserNotFound = errors.New("user not found")
	// ErrNothingToUpdate — profile update with no fields supplied. 400.
	ErrNothingToUpdate = errors.New("nothing to update")
)

// Store is the credential-store surface the service depends on. The pgx
// implementation lives in internal/repository.
type Store interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	FindUserByLogin(ctx context.Context, identifier string) (model.User, error)
	FindUserByID(ctx context.Context, userID string) (model.User, error)
	UpdateUser(ctx context.Context, userID string, update model.UserUpdate) (model.User, error)
	InsertRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error
	ConsumeRefreshToken(ctx context.Context, token string) (string, error)
	DeleteRefreshToken(ctx context.Context, token string) error
}

var _ Store = (*repository.Store)(nil)

// Session is the result of register, login, and refresh: a fresh token pair
// plus the authenticated user. ExpiresIn is the access-token lifetime in
// seconds, derived from the configured TTL.
type Session struct {
	Token        string
	RefreshToken string
	User         model.User
	ExpiresIn    int
}

type Service struct {
	store Store
	cfg   config.Config
}

func New(store Store, cfg config.Config) *Service {
	return &Service{store: store, cfg: cfg}
}
