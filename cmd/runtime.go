package cmd

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
	"github.com/vibast-solutions/ms-go-remittance/app/fees"
	"github.com/vibast-solutions/ms-go-remittance/app/provider"
	"github.com/vibast-solutions/ms-go-remittance/app/publisher"
	"github.com/vibast-solutions/ms-go-remittance/app/rates"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
	"github.com/vibast-solutions/ms-go-remittance/app/service"
	"github.com/vibast-solutions/ms-go-remittance/app/settlement"
	"github.com/vibast-solutions/ms-go-remittance/app/webhook"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

// runtime bundles the long-lived components a command needs. Close releases
// them in reverse order of construction.
type runtime struct {
	cfg            *config.Config
	db             *sql.DB
	rateCache      *repository.RateCacheRepository
	paymentService *service.PaymentService
	adapter        *settlement.Adapter
	notifier       *webhook.Notifier
	closers        []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustOpenDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if cfg.Database.Driver == config.DatabaseDriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	return db
}

func mustCreateRuntime() *runtime {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	rt := &runtime{cfg: cfg, db: db}
	rt.closers = append(rt.closers, func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	})

	rt.rateCache = repository.NewRateCacheRepository(db)
	oracle := rates.NewOracle(rt.mustRateCache(), cfg.Catalog.BaseRates, rates.Options{
		Provider: cfg.Rates.ProviderName,
		Anchor:   cfg.Catalog.AnchorCurrency,
		TTL:      cfg.Rates.TTL,
		Jitter:   cfg.Rates.Jitter,
		Random:   factory.NewRandom(cfg.Rates.Seed),
	})

	transactions := repository.NewSettlementTransactionRepository(db)
	registry := provider.NewRegistry(provider.DefinitionsFromConfig(cfg.Catalog.Providers)...)
	rt.adapter = settlement.NewAdapter(transactions, registry, settlement.Options{
		Random: factory.NewRandom(cfg.Orchestration.ProviderSeed),
	})
	rt.closers = append(rt.closers, rt.adapter.Close)

	rt.notifier = webhook.NewNotifier(repository.NewWebhookDeliveryRepository(db), webhook.Options{
		Secret:     cfg.Webhooks.SigningSecret,
		MaxRetries: cfg.Webhooks.MaxRetries,
		Backoff:    cfg.Webhooks.Backoff,
		Timeout:    cfg.Webhooks.HTTPTimeout,
	})
	rt.closers = append(rt.closers, rt.notifier.Close)

	events := rt.mustPublisher()

	rt.paymentService = service.NewPaymentService(service.Dependencies{
		Payments:     repository.NewPaymentRepository(db),
		Transactions: transactions,
		Webhooks:     repository.NewWebhookDeliveryRepository(db),
		Events:       repository.NewPaymentEventRepository(db),
		Callbacks:    repository.NewProviderCallbackRepository(db),
		Rates:        oracle,
		Fees:         fees.NewCalculator(fees.SchedulesFromConfig(cfg.Catalog.FeeSchedules)),
		Settlement:   rt.adapter,
		Notifier:     rt.notifier,
		Publisher:    events,
	}, cfg.Orchestration)
	rt.closers = append(rt.closers, rt.paymentService.Close)

	return rt
}

func (r *runtime) mustRateCache() rates.Cache {
	switch r.cfg.Rates.CacheDriver {
	case config.RateCacheMemory:
		return rates.NewMemoryCache()
	case config.RateCacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     r.cfg.Redis.Addr,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			logrus.WithError(err).Fatal("Failed to ping redis")
		}
		r.closers = append(r.closers, func() {
			if err := client.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis client")
			}
		})
		return rates.NewRedisCache(client, r.cfg.Redis.KeyPrefix)
	default:
		return r.rateCache
	}
}

func (r *runtime) mustPublisher() publisher.Publisher {
	if len(r.cfg.Kafka.Brokers) == 0 {
		return publisher.NewLogPublisher()
	}

	kafkaPublisher, err := publisher.NewKafkaPublisher(r.cfg.Kafka.Brokers, r.cfg.Kafka.Topic)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize kafka publisher")
	}
	r.closers = append(r.closers, func() {
		if err := kafkaPublisher.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close kafka publisher")
		}
	})
	return kafkaPublisher
}

// resumeWork re-arms provider timers, pending webhooks and interrupted flows.
func (r *runtime) resumeWork(ctx context.Context) {
	limit := r.cfg.Orchestration.JobBatchSize

	if n, err := r.adapter.RescheduleProcessing(ctx, limit); err != nil {
		logrus.WithError(err).Warn("Failed to reschedule settlement transactions")
	} else if n > 0 {
		logrus.WithField("count", n).Info("Settlement transactions rescheduled")
	}

	if n, err := r.notifier.ResumePending(ctx, r.cfg.Webhooks.DispatchBatchSize); err != nil {
		logrus.WithError(err).Warn("Failed to resume pending webhooks")
	} else if n > 0 {
		logrus.WithField("count", n).Info("Pending webhooks resumed")
	}

	if n, err := r.paymentService.RunResumeBatch(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to resume payments")
	} else if n > 0 {
		logrus.WithField("count", n).Info("Payments resumed")
	}
}
