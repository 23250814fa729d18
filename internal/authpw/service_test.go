package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/samarth3282/trello-api/internal/auth"
	"github.com/samarth3282/trello-api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: map[string]store.User{}, emailIndex: map[string]string{}}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if id, ok := m.emailIndex[strings.ToLower(email)]; ok {
		return m.users[id], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) InsertUser(_ context.Context, u store.User) error {
	m.users[u.ID] = u
	m.emailIndex[u.Email] = u.ID
	return nil
}

func (m *mockUserStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	u := m.users[userID]
	u.LastLoginAt = &at
	m.users[userID] = u
	return nil
}

type mockSessions struct {
	byHash map[string]string
}

func (m *mockSessions) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	m.byHash[hash] = userID
	return nil
}

func (m *mockSessions) LookupRefreshSession(_ context.Context, hash string) (string, error) {
	if id, ok := m.byHash[hash]; ok {
		return id, nil
	}
	return "", store.ErrNotFound
}

func (m *mockSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	delete(m.byHash, hash)
	return nil
}

func newTestService() (*Service, *mockUserStore, *mockSessions) {
	users := newMockUserStore()
	sessions := &mockSessions{byHash: map[string]string{}}
	svc := NewService(users, sessions, Config{
		AccessSecret:  []byte("access"),
		RefreshSecret: []byte("refresh"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		BcryptCost:    bcrypt.MinCost,
	})
	return svc, users, sessions
}

func TestRegisterAndLogin(t *testing.T) {
	svc, users, _ := newTestService()
	ctx := context.Background()

	user, pair, err := svc.Register(ctx, RegisterRequest{Name: "Avery", Email: "Avery@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "avery@example.com" || user.Role != "member" || !user.IsActive {
		t.Fatalf("unexpected user %+v", user)
	}
	if users.users[user.ID].PasswordHash == "secret1" {
		t.Fatalf("password must be hashed")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.ExpiresIn != 60 {
		t.Fatalf("unexpected token pair %+v", pair)
	}

	if _, _, err := svc.Register(ctx, RegisterRequest{Name: "Other", Email: "avery@example.com", Password: "secret1"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	logged, _, err := svc.Login(ctx, LoginRequest{Email: "avery@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if logged.LastLoginAt == nil {
		t.Fatalf("expected last login to be stamped")
	}
	if _, _, err := svc.Login(ctx, LoginRequest{Email: "avery@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	authed, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil || authed.ID != user.ID {
		t.Fatalf("Authenticate() = %v, %v", authed.ID, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService()
	cases := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{name: "short name", req: RegisterRequest{Name: "A", Email: "a@example.com", Password: "secret1"}, field: "name"},
		{name: "bad email", req: RegisterRequest{Name: "Avery", Email: "nope", Password: "secret1"}, field: "email"},
		{name: "short password", req: RegisterRequest{Name: "Avery", Email: "a@example.com", Password: "123"}, field: "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	svc, _, sessions := newTestService()
	ctx := context.Background()

	_, pair, err := svc.Register(ctx, RegisterRequest{Name: "Avery", Email: "a@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, ok := sessions.byHash[auth.HashToken(pair.RefreshToken)]; ok {
		t.Fatalf("old refresh token must be revoked")
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected reuse of old refresh token to fail, got %v", err)
	}

	if err := svc.Logout(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, _, err := svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected logged-out token to fail, got %v", err)
	}
}
