package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/edutrack/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func configureJWTForTest(t *testing.T, secret string, expirationHours int) {
	t.Helper()

	originalSecret := append([]byte(nil), jwtSecret...)
	originalExpiration := jwtExpirationHours

	t.Cleanup(func() {
		jwtSecret = originalSecret
		jwtExpirationHours = originalExpiration
	})

	ConfigureJWT(secret, expirationHours)
}

func TestConfigureJWT(t *testing.T) {
	t.Run("updates secret and expiration when valid values are provided", func(t *testing.T) {
		configureJWTForTest(t, "test-secret", 72)

		if got := string(jwtSecret); got != "test-secret" {
			t.Fatalf("expected jwt secret to be %q, got %q", "test-secret", got)
		}
		if jwtExpirationHours != 72 {
			t.Fatalf("expected jwt expiration to be %d, got %d", 72, jwtExpirationHours)
		}
	})

	t.Run("ignores empty secret and non-positive expiration", func(t *testing.T) {
		configureJWTForTest(t, "initial-secret", 24)

		ConfigureJWT("", 0)

		if got := string(jwtSecret); got != "initial-secret" {
			t.Fatalf("expected jwt secret to remain %q, got %q", "initial-secret", got)
		}
		if jwtExpirationHours != 24 {
			t.Fatalf("expected jwt expiration to remain %d, got %d", 24, jwtExpirationHours)
		}
	})
}

func TestTokens_RequireConfiguredSecret(t *testing.T) {
	originalSecret := jwtSecret
	t.Cleanup(func() { jwtSecret = originalSecret })
	jwtSecret = nil

	user := &models.User{BaseModel: models.BaseModel{ID: uuid.New()}, Email: "unconfigured@test.com", Role: models.UserRoleStudent}
	if _, err := GenerateToken(user); !errors.Is(err, ErrJWTNotConfigured) {
		t.Fatalf("expected ErrJWTNotConfigured, got %v", err)
	}
	if _, err := ValidateToken("whatever"); !errors.Is(err, ErrJWTNotConfigured) {
		t.Fatalf("expected ErrJWTNotConfigured, got %v", err)
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	configureJWTForTest(t, "roundtrip-secret", 1)

	user := &models.User{
		BaseModel: models.BaseModel{ID: uuid.New()},
		Email:     "claims@test.com",
		Role:      models.UserRoleTutor,
	}

	token, err := GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != user.Email || claims.Role != user.Role {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAt)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	configureJWTForTest(t, "signing-secret", 1)

	user := &models.User{BaseModel: models.BaseModel{ID: uuid.New()}, Email: "x@test.com", Role: models.UserRoleStudent}
	token, err := GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	ConfigureJWT("a-different-secret", 1)
	if _, err := ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret should not validate")
	}
}

func TestValidateToken_RejectsUnexpectedSigningMethod(t *testing.T) {
	configureJWTForTest(t, "alg-secret", 1)

	// alg=none tokens must never validate.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: uuid.New(),
		Email:  "none@test.com",
		Role:   models.UserRoleAdmin,
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed building alg=none token: %v", err)
	}

	if _, err := ValidateToken(token); err == nil {
		t.Fatal("alg=none token should be rejected")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	configureJWTForTest(t, "expiry-secret", 1)

	claims := Claims{
		UserID: uuid.New(),
		Email:  "old@test.com",
		Role:   models.UserRoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("failed signing expired token: %v", err)
	}

	if _, err := ValidateToken(token); err == nil {
		t.Fatal("expired token should be rejected")
	}
}
