package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procurement/server/internal/auth"
	"procurement/server/internal/config"
	"procurement/server/internal/model"
	"procurement/server/internal/repository/memory"
	"procurement/server/internal/service"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:        "access-secret",
		JWTRefreshSecret: "refresh-secret",
		JWTIssuer:        "test-issuer",
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  30 * 24 * time.Hour,
	}
}

func newTestService() (*service.Service, *memory.Store) {
	store := memory.NewStore()
	return service.New(store, testConfig()), store
}

func TestRegister(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	session, err := svc.Register(ctx, "alice", "alice@x.com", "pass1234", "pass1234")
	require.NoError(t, err)

	assert.Equal(t, "alice", session.User.Username)
	assert.Equal(t, "alice@x.com", session.User.Email)
	assert.Equal(t, model.RoleUser, session.User.Role)
	assert.NotEmpty(t, session.User.ID)
	assert.Equal(t, 3600, session.ExpiresIn)
	assert.NotEmpty(t, session.Token)
	assert.True(t, store.HasToken(session.RefreshToken), "refresh token must be persisted")

	claims, err := auth.ParseAccessToken("access-secret", session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID)
	assert.Equal(t, "alice@x.com", claims.Email)
	assert.Equal(t, "alice", claims.Username)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
		confirm  string
		wantErr  error
	}{
		{"missing username", "", "a@x.com", "pass1234", "pass1234", service.ErrMissingFields},
		{"missing email", "a", "", "pass1234", "pass1234", service.ErrMissingFields},
		{"missing password", "a", "a@x.com", "", "", service.ErrMissingFields},
		{"missing confirmation", "a", "a@x.com", "pass1234", "", service.ErrMissingFields},
		{"mismatch", "a", "a@x.com", "pass1234", "pass12345", service.ErrPasswordMismatch},
		{"too short", "a", "a@x.com", "ab", "ab", service.ErrPasswordTooShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.username, tc.email, tc.password, tc.confirm)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Register(ctx, "alice", "alice@x.com", "pass1234", "pass1234")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "bob", "alice@x.com", "pass1234", "pass1234")
	assert.ErrorIs(t, err, service.ErrUserExists)

	// First user's record is untouched.
	user, err := svc.Profile(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@x.com", user.Email)
}

func TestRegisterIDsNeverReused(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		name := string(rune('a'+i)) + "user"
		session, err := svc.Register(ctx, name, name+"@x.com", "pass1234", "pass1234")
		require.NoError(t, err)
		assert.False(t, seen[session.User.ID], "user id reused: %s", session.User.ID)
		seen[session.User.ID] = true
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@x.com", "pass1234", "pass1234")
	require.NoError(t, err)

	t.Run("by email", func(t *testing.T) {
		session, err := svc.Login(ctx, "alice@x.com", "pass1234")
		require.NoError(t, err)
		assert.Equal(t, "alice", session.User.Username)
	})

	t.Run("by username", func(t *testing.T) {
		session, err := svc.Login(ctx, "alice", "pass1234")
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", session.User.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "alice@x.com", "wrong")
		assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@x.com", "pass1234")
		// Same error as a wrong password: callers cannot tell which failed.
		assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := svc.Login(ctx, "", "")
		assert.ErrorIs(t, err, service.ErrMissingCredentials)
	})
}

func TestLoginEmailCaseInsensitive(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// Registration lowercases the stored email; the exact string the user
	// registered with must still sign in.
	registered, err := svc.Register(ctx, "alice", "Alice@X.com", "pass1234", "pass1234")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", registered.User.Email)

	session, err := svc.Login(ctx, "Alice@X.com", "pass1234")
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", session.User.Email)

	_, err = svc.Login(ctx, "alice@x.com", "pass1234")
	require.NoError(t, err)
}

func TestRefreshRotation(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	login, err := svc.Register(ctx, "alice", "alice@x.com", "pass1234", "pass1234")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken, "rotation must issue a new token string")
	assert.False(t, store.HasToken(login.RefreshToken), "consumed token must leave the store")
	assert.True(t, store.HasToken(refreshed.RefreshToken))

	// The consumed token is single-use.
	_, err = svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestRefreshRejections(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, service.ErrMissingRefreshToken)

	_, err = svc.Refresh(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, service.ErrInvalidRefreshToken)

	// A token signed with the access secret must not pass refresh verification.
	forged, err := auth.NewRefreshToken("access-secret", "test-issuer", time.Hour, "user-1")
	require.NoError(t, err)
	require.NoError(t, store.InsertRefreshToken(ctx, "user-1", forged, time.Hour))
	_, err = svc.Refresh(ctx, forged)
	assert.ErrorIs(t, err, service.ErrInvalidRefreshToken)

	// A validly signed token absent from the store is rejected.
	unsaved, err := auth.NewRefreshToken("refresh-secret", "test-issuer", time.Hour, "user-1")
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, unsaved)
	assert.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestRefreshUserVanished(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	// A stored, validly signed token whose owner row no longer exists.
	token, err := auth.NewRefreshToken("refresh-secret", "test-issuer", time.Hour, "ghost")
	require.NoError(t, err)
	require.NoError(t, store.InsertRefreshToken(ctx, "ghost", token, time.Hour))

	_, err = svc.Refresh(ctx, token)
	assert.ErrorIs(t, err, service.ErrUserNotFound)
}

func TestLogout(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	session, err := svc.Register(ctx, "alice", "alice@x.com", "pass1234", "pass1234")
	require.NoError(t, err)

	svc.Logout(ctx, session.RefreshToken)
	assert.False(t, store.HasToken(session.RefreshToken))

	// Idempotent, and fine with no token at all.
	svc.Logout(ctx, session.RefreshToken)
	svc.Logout(ctx, "")
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, err := svc.Register(ctx, "alice", "alice@x.com", "pass1234", "pass1234")
	require.NoError(t, err)
	userID := session.User.ID

	t.Run("nothing to update", func(t *testing.T) {
		_, err := svc.UpdateProfile(ctx, userID, model.UserUpdate{})
		assert.ErrorIs(t, err, service.ErrNothingToUpdate)
	})

	t.Run("username only", func(t *testing.T) {
		username := "alice2"
		user, err := svc.UpdateProfile(ctx, userID, model.UserUpdate{Username: &username})
		require.NoError(t, err)
		assert.Equal(t, "alice2", user.Username)
		assert.Equal(t, "alice@x.com", user.Email, "email must be untouched")
	})

	t.Run("email normalized", func(t *testing.T) {
		email := "  Alice@Example.COM "
		user, err := svc.UpdateProfile(ctx, userID, model.UserUpdate{Email: &email})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email)
	})

	t.Run("unknown user", func(t *testing.T) {
		username := "x"
		_, err := svc.UpdateProfile(ctx, "missing-id", model.UserUpdate{Username: &username})
		assert.ErrorIs(t, err, service.ErrUserNotFound)
	})

	t.Run("taken email", func(t *testing.T) {
		_, err := svc.Register(ctx, "bob", "bob@x.com", "pass1234", "pass1234")
		require.NoError(t, err)
		email := "bob@x.com"
		_, err = svc.UpdateProfile(ctx, userID, model.UserUpdate{Email: &email})
		assert.ErrorIs(t, err, service.ErrUserExists)
	})
}
