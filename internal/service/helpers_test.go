package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"beautycort-auth/internal/client"
	"beautycort-auth/internal/config"
	"beautycort-auth/internal/hashing"
	"beautycort-auth/internal/models"
	"beautycort-auth/internal/repository/scylla"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
		},
		OTP: config.OTPConfig{
			Length:      6,
			Expiry:      10 * time.Minute,
			MaxAttempts: 5,
			GracePeriod: 60 * time.Second,
		},
		Lockout: config.LockoutConfig{
			CacheTTL: 24 * time.Hour,
		},
		Token: config.TokenConfig{
			FallbackBlacklistTTL: 7 * 24 * time.Hour,
			RefreshTokenTTL:      30 * 24 * time.Hour,
		},
	}
}

type testEnv struct {
	mr     *miniredis.Miniredis
	client *client.RedisClient
	cfg    *config.Config
	hasher *hashing.Hasher
	sink   *recordingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis = config.RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 10}

	redisClient, err := client.NewRedisClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	return &testEnv{
		mr:     mr,
		client: redisClient,
		cfg:    cfg,
		hasher: hashing.NewHasher(cfg),
		sink:   &recordingSink{},
	}
}

// recordingSink captures emitted security events synchronously.
type recordingSink struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (s *recordingSink) Emit(event *models.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) byType(eventType string) []*models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SecurityEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// fakeLockoutStore is an in-memory stand-in for the ScyllaDB mirror.
type fakeLockoutStore struct {
	mu      sync.Mutex
	records map[string]*models.LockoutRecord
	events  []*models.SecurityEvent
	err     error
}

var _ scylla.LockoutStore = (*fakeLockoutStore)(nil)

func newFakeLockoutStore() *fakeLockoutStore {
	return &fakeLockoutStore{records: make(map[string]*models.LockoutRecord)}
}

func storeKey(identifier, lockoutType string) string {
	return lockoutType + ":" + identifier
}

func (s *fakeLockoutStore) UpsertLockout(ctx context.Context, record *models.LockoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := *record
	s.records[storeKey(record.Identifier, record.LockoutType)] = &copied
	return nil
}

func (s *fakeLockoutStore) GetLockout(ctx context.Context, identifier, lockoutType string) (*models.LockoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	record, ok := s.records[storeKey(identifier, lockoutType)]
	if !ok {
		return nil, scylla.ErrLockoutNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *fakeLockoutStore) DeleteLockout(ctx context.Context, identifier string, lockoutTypes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, lockoutType := range lockoutTypes {
		delete(s.records, storeKey(identifier, lockoutType))
	}
	return nil
}

func (s *fakeLockoutStore) InsertSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeLockoutStore) HealthCheck(ctx context.Context) error {
	return s.err
}

func (s *fakeLockoutStore) get(identifier, lockoutType string) *models.LockoutRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[storeKey(identifier, lockoutType)]
}

func (s *fakeLockoutStore) put(record *models.LockoutRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[storeKey(record.Identifier, record.LockoutType)] = record
}
