package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ridehail/internal/config"
	"ridehail/internal/domain"
)

// ErrInvalidToken is returned when a credential is missing, malformed,
// expired, or carries an unknown role.
var ErrInvalidToken = errors.New("invalid token")

// Verifier turns a bearer credential into the principal it identifies.
type Verifier interface {
	Verify(ctx context.Context, credential string) (domain.Principal, error)
}

// Claims are the JWT claims carried by access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 access tokens.
type JWTService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTService creates a new JWTService.
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

var _ Verifier = (*JWTService)(nil)

// GenerateToken issues a token for the principal valid for ttl.
func (s *JWTService) GenerateToken(p domain.Principal, ttl time.Duration) (string, error) {
	if p.ID == "" || !p.Role.Valid() {
		return "", fmt.Errorf("%w: principal needs an id and a known role", ErrInvalidToken)
	}

	now := s.now()
	claims := &Claims{
		UserID: p.ID,
		Role:   string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates the credential and returns the principal it names.
// A leading "Bearer " prefix is accepted.
func (s *JWTService) Verify(ctx context.Context, credential string) (domain.Principal, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if raw == "" {
		return domain.Principal{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Principal{}, ErrInvalidToken
	}

	p := domain.Principal{ID: claims.UserID, Role: domain.Role(claims.Role)}
	if p.ID == "" || !p.Role.Valid() {
		return domain.Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return p, nil
}
