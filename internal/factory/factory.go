package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beautycort-auth/internal/audit"
	"beautycort-auth/internal/client"
	"beautycort-auth/internal/config"
	"beautycort-auth/internal/hashing"
	redisrepo "beautycort-auth/internal/repository/redis"
	"beautycort-auth/internal/repository/scylla"
	"beautycort-auth/internal/service"
	"beautycort-auth/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Managers
	hasher *hashing.Hasher

	// Repositories and caches
	otpCache          *redisrepo.OTPCache
	lockoutCache      *redisrepo.LockoutCache
	tokenCache        *redisrepo.TokenCache
	lockoutRepository scylla.LockoutStore

	eventPublisher *audit.Publisher
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.hasher = hashing.NewHasher(cfg)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis is the authoritative attempt cache, required everywhere
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB: durable lockout mirror and security-event trail
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		util.Warn("ScyllaDB initialization failed - proceeding without durable mirror", util.ErrorField(err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			util.Warn("ScyllaDB health check failed", util.ErrorField(err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka: security-event stream, best effort
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// ==============================
// Repositories and Caches
// ==============================

func (f *Factory) OTPCache() *redisrepo.OTPCache {
	if f.otpCache == nil {
		f.otpCache = redisrepo.NewOTPCache(f.redisClient)
	}
	return f.otpCache
}

func (f *Factory) LockoutCache() *redisrepo.LockoutCache {
	if f.lockoutCache == nil {
		f.lockoutCache = redisrepo.NewLockoutCache(f.redisClient)
	}
	return f.lockoutCache
}

func (f *Factory) TokenCache() *redisrepo.TokenCache {
	if f.tokenCache == nil {
		f.tokenCache = redisrepo.NewTokenCache(f.redisClient)
	}
	return f.tokenCache
}

// LockoutRepository returns the durable store, or nil when ScyllaDB is not
// available. Services treat a nil store as cache-only mode.
func (f *Factory) LockoutRepository() scylla.LockoutStore {
	if f.lockoutRepository == nil && f.scyllaClient != nil {
		f.lockoutRepository = scylla.NewLockoutRepository(f.scyllaClient, util.Get())
	}
	return f.lockoutRepository
}

func (f *Factory) EventPublisher() *audit.Publisher {
	if f.eventPublisher == nil {
		f.eventPublisher = audit.NewPublisher(
			f.kafkaProducer,
			f.LockoutRepository(),
			f.config.Kafka.SecurityEventsTopic,
		)
	}
	return f.eventPublisher
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.OTPCache(),
			f.LockoutCache(),
			f.TokenCache(),
			f.LockoutRepository(),
			f.Hasher(),
			f.EventPublisher(),
			f.config,
			util.Get(),
		)
	}
	return f.serviceFactory
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// Close shuts down all clients exactly once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Info("Factory closed")
		util.Sync()
	})
}
