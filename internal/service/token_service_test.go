package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"beautycort-auth/internal/models"
	redisrepo "beautycort-auth/internal/repository/redis"
)

func newTokenService(t *testing.T) (*TokenService, *testEnv) {
	env := newTestEnv(t)
	svc := NewTokenService(redisrepo.NewTokenCache(env.client), env.sink, env.cfg, zap.NewNop())
	return svc, env
}

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func TestBlacklistHonorsTokenExpiry(t *testing.T) {
	svc, env := newTokenService(t)
	ctx := context.Background()

	token := signedToken(t, time.Hour)
	require.NoError(t, svc.Blacklist(ctx, token, "user-1", models.BlacklistReasonLogout))

	assert.True(t, svc.IsBlacklisted(ctx, token))

	// The entry lives no longer than the token it invalidates
	ttl := env.mr.TTL("blacklist:" + HashToken(token))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestBlacklistExpiredTokenIsNoop(t *testing.T) {
	svc, _ := newTokenService(t)
	ctx := context.Background()

	token := signedToken(t, -time.Minute)
	require.NoError(t, svc.Blacklist(ctx, token, "user-1", models.BlacklistReasonLogout))

	assert.False(t, svc.IsBlacklisted(ctx, token), "an expired token needs no blacklist entry")
}

func TestBlacklistOpaqueTokenUsesFallbackTTL(t *testing.T) {
	svc, env := newTokenService(t)
	ctx := context.Background()

	token := "opaque-session-token"
	require.NoError(t, svc.Blacklist(ctx, token, "user-1", models.BlacklistReasonSecurity))

	assert.True(t, svc.IsBlacklisted(ctx, token))

	ttl := env.mr.TTL("blacklist:" + HashToken(token))
	assert.Equal(t, env.cfg.Token.FallbackBlacklistTTL, ttl)
}

func TestBlacklistRequiresToken(t *testing.T) {
	svc, _ := newTokenService(t)

	err := svc.Blacklist(context.Background(), "", "user-1", models.BlacklistReasonLogout)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIsBlacklistedFailsOpen(t *testing.T) {
	svc, env := newTokenService(t)
	ctx := context.Background()

	token := signedToken(t, time.Hour)
	require.NoError(t, svc.Blacklist(ctx, token, "user-1", models.BlacklistReasonLogout))

	env.mr.Close()
	assert.False(t, svc.IsBlacklisted(ctx, token), "a cache outage must not block logins")
}

func TestBlacklistAllUserTokens(t *testing.T) {
	svc, env := newTokenService(t)
	ctx := context.Background()

	first := signedToken(t, time.Hour)
	second := signedToken(t, 2*time.Hour)
	require.NoError(t, svc.Blacklist(ctx, first, "user-1", models.BlacklistReasonLogout))
	require.NoError(t, svc.Blacklist(ctx, second, "user-1", models.BlacklistReasonLogout))

	count, err := svc.BlacklistAllUserTokens(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	events := env.sink.byType(models.EventUserTokensRevoked)
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].Metadata["count"])
}

func TestIssueAndGetRefreshToken(t *testing.T) {
	svc, _ := newTokenService(t)
	ctx := context.Background()

	record, err := svc.IssueRefreshToken(ctx, "tok-1", "user-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, record.TokenFamily, "an empty family starts a new chain")

	got, err := svc.GetRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, record.TokenFamily, got.TokenFamily)
	assert.False(t, got.IsRevoked)

	_, err = svc.GetRefreshToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRotateRefreshToken(t *testing.T) {
	svc, _ := newTokenService(t)
	ctx := context.Background()

	issued, err := svc.IssueRefreshToken(ctx, "tok-1", "user-1", "")
	require.NoError(t, err)

	rotated, err := svc.RotateRefreshToken(ctx, "tok-1", "tok-2")
	require.NoError(t, err)
	assert.Equal(t, issued.TokenFamily, rotated.TokenFamily)
	assert.Equal(t, "user-1", rotated.UserID)

	old, err := svc.GetRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, old.IsRevoked)
	assert.NotNil(t, old.LastUsed)
}

func TestRotateDetectsReuseAndBurnsFamily(t *testing.T) {
	svc, env := newTokenService(t)
	ctx := context.Background()

	_, err := svc.IssueRefreshToken(ctx, "tok-1", "user-1", "")
	require.NoError(t, err)
	_, err = svc.RotateRefreshToken(ctx, "tok-1", "tok-2")
	require.NoError(t, err)

	// Replaying the retired token is treated as theft
	_, err = svc.RotateRefreshToken(ctx, "tok-1", "tok-3")
	assert.ErrorIs(t, err, ErrTokenReuseDetected)

	// The legitimate descendant is burned with the rest of the family
	current, err := svc.GetRefreshToken(ctx, "tok-2")
	require.NoError(t, err)
	assert.True(t, current.IsRevoked)

	events := env.sink.byType(models.EventTokenReuseDetected)
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].Identifier)
}

func TestRotateMissingToken(t *testing.T) {
	svc, _ := newTokenService(t)

	_, err := svc.RotateRefreshToken(context.Background(), "missing", "tok-2")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRevokeRefreshToken(t *testing.T) {
	svc, _ := newTokenService(t)
	ctx := context.Background()

	_, err := svc.IssueRefreshToken(ctx, "tok-1", "user-1", "")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeRefreshToken(ctx, "tok-1"))

	got, err := svc.GetRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)

	// Revoking an already-expired token is a quiet no-op
	assert.NoError(t, svc.RevokeRefreshToken(ctx, "missing"))
}

func TestRevokeAllUserRefreshTokens(t *testing.T) {
	svc, env := newTokenService(t)
	ctx := context.Background()

	_, err := svc.IssueRefreshToken(ctx, "tok-1", "user-1", "")
	require.NoError(t, err)
	_, err = svc.IssueRefreshToken(ctx, "tok-2", "user-1", "")
	require.NoError(t, err)

	count, err := svc.RevokeAllUserRefreshTokens(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, tokenID := range []string{"tok-1", "tok-2"} {
		got, err := svc.GetRefreshToken(ctx, tokenID)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked)
	}

	events := env.sink.byType(models.EventUserTokensRevoked)
	require.Len(t, events, 1)
	assert.Equal(t, "refresh", events[0].Metadata["scope"])
}

func TestHashTokenDeterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
