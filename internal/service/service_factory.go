package service

import (
	"go.uber.org/zap"

	"beautycort-auth/internal/audit"
	"beautycort-auth/internal/config"
	"beautycort-auth/internal/hashing"
	redisrepo "beautycort-auth/internal/repository/redis"
	"beautycort-auth/internal/repository/scylla"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	otpCache     *redisrepo.OTPCache
	lockoutCache *redisrepo.LockoutCache
	tokenCache   *redisrepo.TokenCache
	lockoutStore scylla.LockoutStore
	hasher       *hashing.Hasher
	events       audit.Sink
	cfg          *config.Config
	logger       *zap.Logger

	otpService     *OTPService
	lockoutService *LockoutService
	tokenService   *TokenService
}

func NewServiceFactory(
	otpCache *redisrepo.OTPCache,
	lockoutCache *redisrepo.LockoutCache,
	tokenCache *redisrepo.TokenCache,
	lockoutStore scylla.LockoutStore,
	hasher *hashing.Hasher,
	events audit.Sink,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		otpCache:     otpCache,
		lockoutCache: lockoutCache,
		tokenCache:   tokenCache,
		lockoutStore: lockoutStore,
		hasher:       hasher,
		events:       events,
		cfg:          cfg,
		logger:       logger,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(f.otpCache, f.hasher, f.cfg, f.logger)
	}
	return f.otpService
}

// LockoutService returns the lockout service instance (singleton)
func (f *ServiceFactory) LockoutService() *LockoutService {
	if f.lockoutService == nil {
		f.lockoutService = NewLockoutService(f.lockoutCache, f.lockoutStore, f.events, f.cfg, f.logger)
	}
	return f.lockoutService
}

// TokenService returns the token service instance (singleton)
func (f *ServiceFactory) TokenService() *TokenService {
	if f.tokenService == nil {
		f.tokenService = NewTokenService(f.tokenCache, f.events, f.cfg, f.logger)
	}
	return f.tokenService
}
