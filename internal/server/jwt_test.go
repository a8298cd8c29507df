package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/jobhunter/internal/config"
)

func testJWTService(now time.Time) *JWTService {
	s := NewJWTService(&config.JWTConfig{Secret: "test-secret-key-for-tokens", ExpirationHours: 24, Issuer: "jobhunter"})
	s.now = func() time.Time { return now }
	return s
}

func TestJWTService_RoundTrip(t *testing.T) {
	now := time.Now()
	s := testJWTService(now)

	token, err := s.GenerateToken("ada")
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	subject, err := claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "ada", subject)
	assert.Equal(t, "jobhunter", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(24*time.Hour), claims.ExpiresAt.Time, time.Second)

	_, err = s.GenerateToken("")
	assert.Error(t, err)
}

func TestJWTService_Rejects(t *testing.T) {
	now := time.Now()
	s := testJWTService(now)
	token, err := s.GenerateToken("ada")
	require.NoError(t, err)

	other := NewJWTService(&config.JWTConfig{Secret: "another-secret-key-entirely", ExpirationHours: 24, Issuer: "jobhunter"})
	foreign, err := other.GenerateToken("ada")
	require.NoError(t, err)

	wrongIssuer := NewJWTService(&config.JWTConfig{Secret: "test-secret-key-for-tokens", ExpirationHours: 24, Issuer: "elsewhere"})
	misissued, err := wrongIssuer.GenerateToken("ada")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "ada", Issuer: "jobhunter"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"empty", "", now},
		{"garbage", "not.a.token", now},
		{"wrong secret", foreign, now},
		{"wrong issuer", misissued, now},
		{"alg none", unsigned, now},
		{"expired", token, now.Add(25 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.now = func() time.Time { return tt.at }
			_, err := s.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	s := testJWTService(time.Now())
	token, err := s.GenerateToken("ada")
	require.NoError(t, err)

	claims, err := s.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	subject, err := claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "ada", subject)

	_, err = s.AsTokenValidator().ValidateToken("bad")
	assert.Error(t, err)
}
