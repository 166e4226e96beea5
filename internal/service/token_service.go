package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"beautycort-auth/internal/audit"
	"beautycort-auth/internal/config"
	"beautycort-auth/internal/models"
	redisrepo "beautycort-auth/internal/repository/redis"
	"beautycort-auth/internal/util"
)

const revokeConcurrency = 8

// TokenService maintains the session-token blacklist and the refresh-token
// family ledger. Blacklist entries never outlive the token they invalidate;
// refresh tokens rotate one-for-one, and spending an already-rotated token
// burns its whole family.
type TokenService struct {
	cache  *redisrepo.TokenCache
	events audit.Sink
	logger *zap.Logger

	fallbackBlacklistTTL time.Duration
	refreshTokenTTL      time.Duration

	clock func() time.Time
}

func NewTokenService(cache *redisrepo.TokenCache, events audit.Sink, cfg *config.Config, logger *zap.Logger) *TokenService {
	return &TokenService{
		cache:                cache,
		events:               events,
		logger:               logger,
		fallbackBlacklistTTL: cfg.Token.FallbackBlacklistTTL,
		refreshTokenTTL:      cfg.Token.RefreshTokenTTL,
		clock:                time.Now,
	}
}

// HashToken reduces a raw token to the SHA-256 digest used as its cache key.
// Raw tokens are never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Blacklist invalidates a session token until its natural expiry. Tokens
// whose exp claim has already passed are ignored; unparseable tokens get the
// conservative fallback TTL.
func (s *TokenService) Blacklist(ctx context.Context, token, userID, reason string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if reason == "" {
		reason = models.BlacklistReasonLogout
	}

	ttl := s.remainingLifetime(token)
	if ttl <= 0 {
		s.logger.Debug("Skipping blacklist of already-expired token",
			util.String("user_id", userID),
		)
		return nil
	}

	entry := &models.BlacklistEntry{
		TokenHash:     HashToken(token),
		UserID:        userID,
		Reason:        reason,
		BlacklistedAt: s.clock().UTC(),
	}
	if err := s.cache.StoreBlacklistEntry(ctx, entry, ttl, s.fallbackBlacklistTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Info("Token blacklisted",
		util.String("user_id", userID),
		util.String("reason", reason),
		util.Duration("ttl", ttl),
	)
	return nil
}

// IsBlacklisted reports whether the token has been invalidated. A cache
// outage fails open: blocking every login because the blacklist is down
// would be a worse failure than honoring a revoked token briefly.
func (s *TokenService) IsBlacklisted(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	blacklisted, err := s.cache.IsBlacklisted(ctx, HashToken(token))
	if err != nil {
		s.logger.Error("Blacklist check failed, failing open",
			util.ErrorField(err),
		)
		return false
	}
	return blacklisted
}

// BlacklistAllUserTokens invalidates every session token indexed for the
// user, e.g. after a password change or compromise report.
func (s *TokenService) BlacklistAllUserTokens(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	hashes, err := s.cache.GetUserTokenHashes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	now := s.clock().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revokeConcurrency)
	for _, hash := range hashes {
		entry := &models.BlacklistEntry{
			TokenHash:     hash,
			UserID:        userID,
			Reason:        models.BlacklistReasonSecurity,
			BlacklistedAt: now,
		}
		g.Go(func() error {
			// Only the hash is known here, so the exp claim is out of
			// reach and the fallback TTL applies.
			return s.cache.StoreBlacklistEntry(gctx, entry, s.fallbackBlacklistTTL, s.fallbackBlacklistTTL)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Warn("All user tokens blacklisted",
		util.String("user_id", userID),
		util.Int("count", len(hashes)),
	)
	s.events.Emit(&models.SecurityEvent{
		Identifier: userID,
		EventType:  models.EventUserTokensRevoked,
		Metadata: map[string]string{
			"scope": "session",
			"count": strconv.Itoa(len(hashes)),
		},
	})
	return len(hashes), nil
}

// IssueRefreshToken registers a new refresh token. An empty family starts a
// fresh rotation chain.
func (s *TokenService) IssueRefreshToken(ctx context.Context, tokenID, userID, tokenFamily string) (*models.RefreshTokenRecord, error) {
	if tokenID == "" || userID == "" {
		return nil, fmt.Errorf("%w: token_id and user_id are required", ErrInvalidInput)
	}
	if tokenFamily == "" {
		tokenFamily = uuid.New().String()
	}

	record := &models.RefreshTokenRecord{
		TokenID:     tokenID,
		UserID:      userID,
		TokenFamily: tokenFamily,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.cache.StoreRefreshToken(ctx, record, s.refreshTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Debug("Refresh token issued",
		util.String("token_id", tokenID),
		util.String("token_family", tokenFamily),
	)
	return record, nil
}

// GetRefreshToken loads a refresh token record.
func (s *TokenService) GetRefreshToken(ctx context.Context, tokenID string) (*models.RefreshTokenRecord, error) {
	record, err := s.cache.GetRefreshToken(ctx, tokenID)
	if err != nil {
		if err == redisrepo.ErrRefreshTokenNotFound {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return record, nil
}

// RotateRefreshToken retires the old token and issues its replacement within
// the same family. Presenting a token that was already rotated is treated as
// theft: the entire family is revoked and ErrTokenReuseDetected is returned.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldTokenID, newTokenID string) (*models.RefreshTokenRecord, error) {
	if oldTokenID == "" || newTokenID == "" {
		return nil, fmt.Errorf("%w: old and new token IDs are required", ErrInvalidInput)
	}

	old, err := s.GetRefreshToken(ctx, oldTokenID)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	claim, err := s.cache.ClaimForRotation(ctx, oldTokenID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	switch claim {
	case redisrepo.RotationClaimNotFound:
		return nil, ErrRefreshTokenNotFound
	case redisrepo.RotationClaimRevoked:
		s.logger.Warn("Refresh token reuse detected, revoking family",
			util.String("token_id", oldTokenID),
			util.String("token_family", old.TokenFamily),
			util.String("user_id", old.UserID),
		)
		if err := s.RevokeTokenFamily(ctx, old.TokenFamily); err != nil {
			s.logger.Error("Failed to revoke token family after reuse",
				util.String("token_family", old.TokenFamily),
				util.ErrorField(err),
			)
		}
		s.events.Emit(&models.SecurityEvent{
			Identifier: old.UserID,
			EventType:  models.EventTokenReuseDetected,
			Metadata: map[string]string{
				"token_family": old.TokenFamily,
			},
		})
		return nil, ErrTokenReuseDetected
	}

	record := &models.RefreshTokenRecord{
		TokenID:     newTokenID,
		UserID:      old.UserID,
		TokenFamily: old.TokenFamily,
		CreatedAt:   now,
	}
	if err := s.cache.StoreRefreshToken(ctx, record, s.refreshTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Debug("Refresh token rotated",
		util.String("old_token_id", oldTokenID),
		util.String("new_token_id", newTokenID),
		util.String("token_family", old.TokenFamily),
	)
	return record, nil
}

// RevokeRefreshToken revokes a single refresh token. Revoking a token that
// already expired out of the cache is a no-op.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return fmt.Errorf("%w: token_id is required", ErrInvalidInput)
	}

	found, err := s.cache.MarkRefreshTokenRevoked(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !found {
		s.logger.Debug("Refresh token already expired",
			util.String("token_id", tokenID),
		)
	}
	return nil
}

// RevokeTokenFamily revokes every live member of a rotation chain.
func (s *TokenService) RevokeTokenFamily(ctx context.Context, tokenFamily string) error {
	if tokenFamily == "" {
		return fmt.Errorf("%w: token_family is required", ErrInvalidInput)
	}

	ids, err := s.cache.GetFamilyTokenIDs(ctx, tokenFamily)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return s.revokeAll(ctx, ids)
}

// RevokeAllUserRefreshTokens revokes every refresh token indexed for the
// user across all families.
func (s *TokenService) RevokeAllUserRefreshTokens(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	ids, err := s.cache.GetUserRefreshTokenIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := s.revokeAll(ctx, ids); err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		s.events.Emit(&models.SecurityEvent{
			Identifier: userID,
			EventType:  models.EventUserTokensRevoked,
			Metadata: map[string]string{
				"scope": "refresh",
				"count": strconv.Itoa(len(ids)),
			},
		})
	}
	return len(ids), nil
}

func (s *TokenService) revokeAll(ctx context.Context, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revokeConcurrency)
	for _, tokenID := range tokenIDs {
		g.Go(func() error {
			_, err := s.cache.MarkRefreshTokenRevoked(gctx, tokenID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// remainingLifetime extracts the exp claim without verifying the signature.
// Signature verification is the API gateway's job; here the claim only
// bounds how long the blacklist entry must live.
func (s *TokenService) remainingLifetime(token string) time.Duration {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		s.logger.Debug("Token exp claim unavailable, using fallback blacklist TTL",
			util.ErrorField(err),
		)
		return s.fallbackBlacklistTTL
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return s.fallbackBlacklistTTL
	}
	return exp.Time.Sub(s.clock())
}
