package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aqarfund/aqar/internal/shared"
)

const (
	defaultIssuer = "aqar"
	clockSkew     = 5 * time.Second
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// Claims represents JWT claims issued by the service.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 identity tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens constructs a token manager.
func NewTokens(secret, issuer string, ttl time.Duration) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = defaultIssuer
	}
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue signs a token for the given user.
func (t *Tokens) Issue(userID int64, roles []string) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		Roles: dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates the token and returns the identity it carries. Every
// failure is reported as shared.ErrUnauthorized.
func (t *Tokens) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", shared.ErrUnauthorized)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", tok.Method.Alg())
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid claims", shared.ErrUnauthorized)
	}
	if claims.IssuedAt == nil || claims.IssuedAt.Time.After(t.now().Add(clockSkew)) {
		return Identity{}, fmt.Errorf("%w: issued-at invalid", shared.ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, fmt.Errorf("%w: subject invalid", shared.ErrUnauthorized)
	}
	return Identity{
		UserID:    userID,
		Roles:     dedupeRoles(claims.Roles),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// TTL exposes the configured token lifetime.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("%w: invalid authorization scheme", shared.ErrUnauthorized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized)
	}
	return token, nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
