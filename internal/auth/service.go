package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aqarfund/aqar/internal/shared"
)

// RoleSource resolves the role names currently held by a user.
type RoleSource interface {
	RoleNames(ctx context.Context, userID int64) ([]string, error)
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	roles  RoleSource
	tokens *Tokens
}

// NewService constructs a new Service.
func NewService(repo Repository, roles RoleSource, tokens *Tokens) *Service {
	return &Service{repo: repo, roles: roles, tokens: tokens}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, shared.ErrInfrastructure) {
			return nil, err
		}
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates the credentials and issues an identity token.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Token{}, err
	}
	var roles []string
	if s.roles != nil {
		roles, err = s.roles.RoleNames(ctx, user.ID)
		if err != nil {
			return Token{}, err
		}
	}
	signed, expiresAt, err := s.tokens.Issue(user.ID, roles)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// Verify exposes token verification for the authorization layer.
func (s *Service) Verify(token string) (Identity, error) {
	return s.tokens.Verify(token)
}
