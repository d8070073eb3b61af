package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ridehail/internal/config"
	"ridehail/internal/domain"
)

func newService() *JWTService {
	return NewJWTService(config.JWTConfig{Secret: "test-secret", Issuer: "ridehail"})
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := newService()
	want := domain.Principal{ID: "driver-7", Role: domain.RoleDriver}

	token, err := svc.GenerateToken(want, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	for _, credential := range []string{token, "Bearer " + token} {
		got, err := svc.Verify(context.Background(), credential)
		if err != nil {
			t.Fatalf("Verify(%q): %v", credential[:10], err)
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	}
}

func TestJWTService_Rejects(t *testing.T) {
	svc := newService()
	valid, _ := svc.GenerateToken(domain.Principal{ID: "p1", Role: domain.RolePassenger}, time.Hour)

	expiredSvc := newService()
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredSvc.GenerateToken(domain.Principal{ID: "p1", Role: domain.RolePassenger}, time.Hour)

	other := NewJWTService(config.JWTConfig{Secret: "other-secret", Issuer: "ridehail"})
	wrongKey, _ := other.GenerateToken(domain.Principal{ID: "p1", Role: domain.RolePassenger}, time.Hour)

	foreign := NewJWTService(config.JWTConfig{Secret: "test-secret", Issuer: "someone-else"})
	wrongIssuer, _ := foreign.GenerateToken(domain.Principal{ID: "p1", Role: domain.RolePassenger}, time.Hour)

	unknownRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "x",
		Role:   "pilot",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ridehail",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))

	testCases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"unknown role": unknownRole,
		"truncated":    valid[:len(valid)-4],
	}

	for name, credential := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(context.Background(), credential)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestJWTService_GenerateRejectsUnknownRole(t *testing.T) {
	_, err := newService().GenerateToken(domain.Principal{ID: "x", Role: "pilot"}, time.Hour)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
