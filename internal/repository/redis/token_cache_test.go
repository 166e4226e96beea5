package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beautycort-auth/internal/models"
)

func TestTokenCacheBlacklist(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	entry := &models.BlacklistEntry{
		TokenHash:     "abc123",
		UserID:        "user-1",
		Reason:        models.BlacklistReasonLogout,
		BlacklistedAt: time.Now().UTC(),
	}
	require.NoError(t, cache.StoreBlacklistEntry(ctx, entry, time.Hour, 7*24*time.Hour))

	blacklisted, err := cache.IsBlacklisted(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, blacklisted)

	blacklisted, err = cache.IsBlacklisted(ctx, "other")
	require.NoError(t, err)
	assert.False(t, blacklisted)

	hashes, err := cache.GetUserTokenHashes(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, hashes)
}

func TestTokenCacheBlacklistExpiry(t *testing.T) {
	mr, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	entry := &models.BlacklistEntry{
		TokenHash:     "abc123",
		UserID:        "user-1",
		Reason:        models.BlacklistReasonLogout,
		BlacklistedAt: time.Now().UTC(),
	}
	require.NoError(t, cache.StoreBlacklistEntry(ctx, entry, time.Hour, 7*24*time.Hour))

	// The entry expires with the token it blacklists
	mr.FastForward(time.Hour + time.Second)
	blacklisted, err := cache.IsBlacklisted(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, blacklisted)
}

func newRefreshRecord(tokenID string) *models.RefreshTokenRecord {
	return &models.RefreshTokenRecord{
		TokenID:     tokenID,
		UserID:      "user-1",
		TokenFamily: "family-1",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestTokenCacheRefreshTokenRoundTrip(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	record := newRefreshRecord("tok-1")
	require.NoError(t, cache.StoreRefreshToken(ctx, record, time.Hour))

	got, err := cache.GetRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, record.UserID, got.UserID)
	assert.Equal(t, record.TokenFamily, got.TokenFamily)
	assert.False(t, got.IsRevoked)
	assert.Nil(t, got.LastUsed)

	_, err = cache.GetRefreshToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestTokenCacheMarkRevoked(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	require.NoError(t, cache.StoreRefreshToken(ctx, newRefreshRecord("tok-1"), time.Hour))

	found, err := cache.MarkRefreshTokenRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, found)

	got, err := cache.GetRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)

	found, err = cache.MarkRefreshTokenRevoked(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTokenCacheRevokeDoesNotResurrectExpired(t *testing.T) {
	mr, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	require.NoError(t, cache.StoreRefreshToken(ctx, newRefreshRecord("tok-1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	found, err := cache.MarkRefreshTokenRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = cache.GetRefreshToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound, "revoking an expired token must not recreate it")
}

func TestTokenCacheClaimForRotation(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	require.NoError(t, cache.StoreRefreshToken(ctx, newRefreshRecord("tok-1"), time.Hour))
	now := time.Now().UTC()

	claim, err := cache.ClaimForRotation(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.Equal(t, RotationClaimOK, claim)

	got, err := cache.GetRefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	require.NotNil(t, got.LastUsed)

	// A second claim on the same token is the reuse signal
	claim, err = cache.ClaimForRotation(ctx, "tok-1", now)
	require.NoError(t, err)
	assert.Equal(t, RotationClaimRevoked, claim)

	claim, err = cache.ClaimForRotation(ctx, "missing", now)
	require.NoError(t, err)
	assert.Equal(t, RotationClaimNotFound, claim)
}

func TestTokenCacheFamilyAndUserIndexes(t *testing.T) {
	_, redisClient := newTestRedis(t)
	cache := NewTokenCache(redisClient)
	ctx := context.Background()

	first := newRefreshRecord("tok-1")
	second := newRefreshRecord("tok-2")
	require.NoError(t, cache.StoreRefreshToken(ctx, first, time.Hour))
	require.NoError(t, cache.StoreRefreshToken(ctx, second, time.Hour))

	familyIDs, err := cache.GetFamilyTokenIDs(ctx, "family-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, familyIDs)

	userIDs, err := cache.GetUserRefreshTokenIDs(ctx, "user-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, userIDs)
}
