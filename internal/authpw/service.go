// Package authpw provides email/password accounts with access and refresh
// tokens.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/samarth3282/trello-api/internal/auth"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InsertUser(ctx context.Context, user store.User) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SessionStore persists hashed refresh tokens.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
}

type Service struct {
	users    UserStore
	sessions SessionStore
	cfg      Config
	now      func() time.Time
}

func NewService(users UserStore, sessions SessionStore, cfg Config) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, sessions: sessions, cfg: cfg, now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, TokenPair, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if len(name) < 2 || len(name) > 50 {
		return store.User{}, TokenPair{}, &ValidationError{Field: "name", Message: "must be between 2 and 50 characters"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, TokenPair{}, &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if len(req.Password) < 6 {
		return store.User{}, TokenPair{}, &ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, TokenPair{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, TokenPair{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return store.User{}, TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(rbac.RoleMember),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.InsertUser(ctx, user); err != nil {
		return store.User{}, TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return store.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (store.User, TokenPair, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, TokenPair{}, &ValidationError{Field: "email", Message: "email and password are required"}
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, TokenPair{}, err
	}
	if !user.IsActive {
		return store.User{}, TokenPair{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, TokenPair{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return store.User{}, TokenPair{}, err
	}
	user.LastLoginAt = &now

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return store.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (store.User, TokenPair, error) {
	claims, err := auth.ParseToken(s.cfg.RefreshSecret, refreshToken, auth.TokenRefresh)
	if err != nil {
		return store.User{}, TokenPair{}, ErrInvalidSession
	}
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil || userID != claims.Subject {
		return store.User{}, TokenPair{}, ErrInvalidSession
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil || !user.IsActive {
		return store.User{}, TokenPair{}, ErrInvalidSession
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return store.User{}, TokenPair{}, err
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return store.User{}, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// Authenticate resolves an access token to an active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (store.User, error) {
	claims, err := auth.ParseToken(s.cfg.AccessSecret, accessToken, auth.TokenAccess)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return store.User{}, auth.ErrInvalidToken
	}
	if !user.IsActive {
		return store.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

func (s *Service) issuePair(ctx context.Context, user store.User) (TokenPair, error) {
	now := s.now()
	access, err := auth.IssueToken(s.cfg.AccessSecret, auth.NewClaims(auth.TokenAccess, user.ID, user.Name, user.Email, user.Role, util.NewID("jti"), now, s.cfg.AccessTTL))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := auth.IssueToken(s.cfg.RefreshSecret, auth.NewClaims(auth.TokenRefresh, user.ID, user.Name, user.Email, user.Role, util.NewID("jti"), now, s.cfg.RefreshTTL))
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTTL.Seconds())}, nil
}
