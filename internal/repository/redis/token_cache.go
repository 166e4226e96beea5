package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"beautycort-auth/internal/client"
	"beautycort-auth/internal/models"
	"beautycort-auth/internal/util"
)

const (
	blacklistPrefix     = "blacklist:"
	userTokensPrefix    = "user_tokens:"
	refreshTokenPrefix  = "refresh_token:"
	tokenFamilyPrefix   = "token_family:"
	userRefreshPrefix   = "user_refresh_tokens:"

	tokenOpTimeout = 5 * time.Second
)

// ErrRefreshTokenNotFound is returned when no refresh token record exists.
var ErrRefreshTokenNotFound = errors.New("refresh token not found")

// revokeTokenScript flips is_revoked only when the record still exists, so
// revoking an expired member never resurrects its key without a TTL. HSET on
// a live hash keeps the key's TTL, which preserves the retention invariant.
const revokeTokenScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    redis.call('HSET', KEYS[1], 'is_revoked', '1')
    return 1
end
return 0
`

// claimRotationScript retires a refresh token for rotation in one atomic
// step. Exactly one of two concurrent rotations can observe is_revoked=0 and
// flip it; the loser sees the revoked flag and reports reuse.
const claimRotationScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
if redis.call('HGET', KEYS[1], 'is_revoked') == '1' then
    return 2
end
redis.call('HSET', KEYS[1], 'is_revoked', '1', 'last_used', ARGV[1])
return 1
`

// Rotation claim outcomes.
const (
	RotationClaimNotFound = iota
	RotationClaimOK
	RotationClaimRevoked
)

// TokenCache tracks blacklisted session tokens and refresh-token families.
// Entries are indexed per user and per family for bulk revocation.
type TokenCache struct {
	client *client.RedisClient
}

func NewTokenCache(client *client.RedisClient) *TokenCache {
	return &TokenCache{client: client}
}

// StoreBlacklistEntry records an invalidated token hash with a TTL capped at
// the token's remaining lifetime, and indexes it under the user's token set.
func (c *TokenCache) StoreBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry, ttl, indexTTL time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	key := blacklistPrefix + entry.TokenHash
	indexKey := userTokensPrefix + entry.UserID

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", entry.UserID,
		"reason", entry.Reason,
		"blacklisted_at", entry.BlacklistedAt.Unix(),
	)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, indexKey, entry.TokenHash)
	pipe.Expire(ctx, indexKey, indexTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store blacklist entry",
			zap.String("user_id", entry.UserID),
			zap.String("reason", entry.Reason),
			zap.Error(err))
		return fmt.Errorf("failed to store blacklist entry: %w", err)
	}

	util.Debug("Blacklist entry stored",
		zap.String("user_id", entry.UserID),
		zap.String("reason", entry.Reason),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *TokenCache) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	exists, err := c.client.Exists(ctx, blacklistPrefix+tokenHash)
	if err != nil {
		util.Error("Failed to check blacklist", zap.Error(err))
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

func (c *TokenCache) GetUserTokenHashes(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	hashes, err := c.client.SMembers(ctx, userTokensPrefix+userID)
	if err != nil {
		util.Error("Failed to get user token hashes",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user token hashes: %w", err)
	}
	return hashes, nil
}

// StoreRefreshToken persists a family member and indexes it under both the
// token family and the user.
func (c *TokenCache) StoreRefreshToken(ctx context.Context, record *models.RefreshTokenRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	key := refreshTokenPrefix + record.TokenID
	familyKey := tokenFamilyPrefix + record.TokenFamily
	userKey := userRefreshPrefix + record.UserID

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", record.UserID,
		"token_family", record.TokenFamily,
		"is_revoked", boolField(record.IsRevoked),
		"created_at", record.CreatedAt.Unix(),
	)
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, familyKey, record.TokenID)
	pipe.Expire(ctx, familyKey, ttl)
	pipe.SAdd(ctx, userKey, record.TokenID)
	pipe.Expire(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store refresh token",
			zap.String("token_id", record.TokenID),
			zap.String("token_family", record.TokenFamily),
			zap.Error(err))
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	util.Debug("Refresh token stored",
		zap.String("token_id", record.TokenID),
		zap.String("token_family", record.TokenFamily),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *TokenCache) GetRefreshToken(ctx context.Context, tokenID string) (*models.RefreshTokenRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	fields, err := c.client.HGetAll(ctx, refreshTokenPrefix+tokenID)
	if err != nil {
		util.Error("Failed to get refresh token",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrRefreshTokenNotFound
	}

	return decodeRefreshToken(tokenID, fields)
}

// MarkRefreshTokenRevoked flips the revoked flag in place. Returns false if
// the record no longer exists (already expired).
func (c *TokenCache) MarkRefreshTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	result, err := c.client.Eval(ctx, revokeTokenScript, []string{refreshTokenPrefix + tokenID})
	if err != nil {
		util.Error("Failed to revoke refresh token",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	revoked, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected result format from revoke script")
	}
	return revoked == 1, nil
}

// ClaimForRotation atomically revokes a live token on behalf of its
// replacement. RotationClaimRevoked means someone already spent the token,
// which is the reuse signal.
func (c *TokenCache) ClaimForRotation(ctx context.Context, tokenID string, usedAt time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	result, err := c.client.Eval(ctx, claimRotationScript,
		[]string{refreshTokenPrefix + tokenID}, usedAt.Unix())
	if err != nil {
		util.Error("Failed to claim refresh token for rotation",
			zap.String("token_id", tokenID),
			zap.Error(err))
		return RotationClaimNotFound, fmt.Errorf("failed to claim refresh token for rotation: %w", err)
	}

	claim, ok := result.(int64)
	if !ok {
		return RotationClaimNotFound, fmt.Errorf("unexpected result format from rotation claim script")
	}
	return int(claim), nil
}

// TouchRefreshToken stamps last_used on a live record.
func (c *TokenCache) TouchRefreshToken(ctx context.Context, tokenID string, usedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	exists, err := c.client.Exists(ctx, refreshTokenPrefix+tokenID)
	if err != nil || !exists {
		return err
	}
	return c.client.HSet(ctx, refreshTokenPrefix+tokenID, "last_used", usedAt.Unix())
}

func (c *TokenCache) GetFamilyTokenIDs(ctx context.Context, tokenFamily string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	ids, err := c.client.SMembers(ctx, tokenFamilyPrefix+tokenFamily)
	if err != nil {
		util.Error("Failed to get family token IDs",
			zap.String("token_family", tokenFamily),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get family token IDs: %w", err)
	}
	return ids, nil
}

func (c *TokenCache) GetUserRefreshTokenIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenOpTimeout)
	defer cancel()

	ids, err := c.client.SMembers(ctx, userRefreshPrefix+userID)
	if err != nil {
		util.Error("Failed to get user refresh token IDs",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user refresh token IDs: %w", err)
	}
	return ids, nil
}

func decodeRefreshToken(tokenID string, fields map[string]string) (*models.RefreshTokenRecord, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token field created_at: %w", err)
	}

	record := &models.RefreshTokenRecord{
		TokenID:     tokenID,
		UserID:      fields["user_id"],
		TokenFamily: fields["token_family"],
		IsRevoked:   fields["is_revoked"] == "1",
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
	}

	if lastUsedUnix, err := strconv.ParseInt(fields["last_used"], 10, 64); err == nil && lastUsedUnix > 0 {
		lastUsed := time.Unix(lastUsedUnix, 0).UTC()
		record.LastUsed = &lastUsed
	}

	return record, nil
}
