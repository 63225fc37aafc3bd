package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parkgate/internal/models"
	"parkgate/internal/password"
	"parkgate/internal/repository"
)

type userRepoFake struct {
	users  map[string]*models.User
	nextID int64
}

func newUserRepoFake() *userRepoFake {
	return &userRepoFake{users: make(map[string]*models.User)}
}

func (r *userRepoFake) Create(_ context.Context, user *models.User) error {
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now().UTC()
	r.users[user.Email] = user
	return nil
}

func (r *userRepoFake) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if user, ok := r.users[email]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

func newAuthService(repo *userRepoFake) *AuthService {
	tokens := NewTokenService("test-secret", time.Hour)
	return NewAuthService(repo, password.NewBcryptHasher(4), tokens, zap.NewNop())
}

func TestSignupAndLogin(t *testing.T) {
	repo := newUserRepoFake()
	svc := newAuthService(repo)

	user, err := svc.Signup(context.Background(), " Driver@Example.COM ", "hunter2", "")
	require.NoError(t, err)
	assert.Equal(t, "driver@example.com", user.Email)
	assert.Equal(t, "driver", user.Role, "role must default to driver")
	assert.NotEqual(t, "hunter2", user.PasswordHash)

	token, logged, err := svc.Login(context.Background(), "driver@example.com", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, logged.ID)
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	svc := newAuthService(newUserRepoFake())

	_, err := svc.Signup(context.Background(), "driver@example.com", "hunter2", "")
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), "driver@example.com", "other", "")
	require.ErrorIs(t, err, ErrEmailInUse)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newAuthService(newUserRepoFake())

	_, err := svc.Signup(context.Background(), "driver@example.com", "hunter2", "")
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "driver@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(context.Background(), "nobody@example.com", "hunter2")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokenService("test-secret", time.Hour)

	token, err := tokens.GenerateToken(42, "driver")
	require.NoError(t, err)

	claims, err := tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "driver", claims.Role)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", time.Hour).GenerateToken(42, "driver")
	require.NoError(t, err)

	_, err = NewTokenService("secret-b", time.Hour).ValidateToken(token)
	require.Error(t, err)
}
