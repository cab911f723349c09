package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-billing/meridian/internal/shared"
)

type memoryRepo struct {
	byEmail map[string]*User
	byID    map[int64]*User
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byEmail: map[string]*User{}, byID: map[int64]*User{}, nextID: 1}
}

func (m *memoryRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", shared.ErrNotFound, email)
	}
	copied := *user
	return &copied, nil
}

func (m *memoryRepo) FindByID(_ context.Context, id int64) (*User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	copied := *user
	return &copied, nil
}

func (m *memoryRepo) Create(_ context.Context, user User) (int64, error) {
	if _, exists := m.byEmail[user.Email]; exists {
		return 0, fmt.Errorf("%w: email already registered", shared.ErrValidation)
	}
	user.ID = m.nextID
	m.nextID++
	m.byEmail[user.Email] = &user
	m.byID[user.ID] = &user
	return user.ID, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	user, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	user.IsActive = active
	return nil
}

func newTestService(repo Repository) *Service {
	tokens := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	return NewService(repo, tokens)
}

func seedUser(t *testing.T, repo *memoryRepo, email, password, role string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	id, err := repo.Create(context.Background(), User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	})
	require.NoError(t, err)
	return repo.byID[id]
}

func TestLoginIssuesValidTokenPair(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "books@meridian.local", "books123", RoleAccountant)
	svc := newTestService(repo)

	user, pair, err := svc.Login(context.Background(), "books@meridian.local", "books123")
	require.NoError(t, err)
	require.Equal(t, RoleAccountant, user.Role)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.tokens.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, RoleAccountant, claims.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "books@meridian.local", "books123", RoleAccountant)
	svc := newTestService(repo)

	_, _, err := svc.Login(context.Background(), "books@meridian.local", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginUnknownUser(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	_, _, err := svc.Login(context.Background(), "ghost@meridian.local", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginDeactivatedUser(t *testing.T) {
	repo := newMemoryRepo()
	user := seedUser(t, repo, "books@meridian.local", "books123", RoleAccountant)
	svc := newTestService(repo)

	require.NoError(t, svc.Deactivate(context.Background(), user.ID))

	_, _, err := svc.Login(context.Background(), "books@meridian.local", "books123")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRefreshRotatesPair(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "books@meridian.local", "books123", RoleAccountant)
	svc := newTestService(repo)

	_, pair, err := svc.Login(context.Background(), "books@meridian.local", "books123")
	require.NoError(t, err)

	fresh, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, fresh.AccessToken)

	_, err = svc.Refresh(context.Background(), "not-a-token")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRefreshRejectedAfterDeactivation(t *testing.T) {
	repo := newMemoryRepo()
	user := seedUser(t, repo, "books@meridian.local", "books123", RoleAccountant)
	svc := newTestService(repo)

	_, pair, err := svc.Login(context.Background(), "books@meridian.local", "books123")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), user.ID))

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	_, err := svc.CreateUser(context.Background(), CreateUserInput{
		Email:    "new@meridian.local",
		Name:     "New User",
		Password: "longenough",
		Role:     "superuser",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateUserHashesPassword(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		Email:    "desk@meridian.local",
		Name:     "Clerk",
		Password: "desk12345",
		Role:     RoleClerk,
	})
	require.NoError(t, err)
	require.NotEqual(t, "desk12345", user.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("desk12345")))
}

func TestValidateAccessTokenRejectsTampering(t *testing.T) {
	tokens := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	other := NewTokenManager("other-secret", 15*time.Minute, 24*time.Hour)

	access, err := tokens.IssueAccessToken(&User{ID: 1, Email: "a@b.c", Role: RoleAdmin})
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(access)
	require.Error(t, err)
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	tokens := NewTokenManager("test-secret", -time.Minute, 24*time.Hour)

	access, err := tokens.IssueAccessToken(&User{ID: 1, Email: "a@b.c", Role: RoleAdmin})
	require.NoError(t, err)

	_, err = tokens.ValidateAccessToken(access)
	require.Error(t, err)
}
