package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/notification"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/slots"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/store"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/store/memstore"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/config"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/database"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
)

const serviceName = "scheduling-service"

// Bootstrap connects the backends named by cfg. On error everything already
// opened is released again.
func Bootstrap(ctx context.Context, cfg *config.Config, log *logger.Logger) (deps *Dependencies, err error) {
	deps = &Dependencies{
		Metrics: monitoring.NewMetricsCollector(serviceName),
		Health:  monitoring.NewHealthManager(serviceName, Version),
	}
	defer func() {
		if err != nil {
			for i := len(deps.closers) - 1; i >= 0; i-- {
				_ = deps.closers[i](context.Background())
			}
			deps = nil
		}
	}()

	tracing, err := monitoring.NewTracingManager(ctx, &monitoring.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Monitoring.OTLPEndpoint,
		SamplingRate:   cfg.Monitoring.SamplingRate,
	})
	if err != nil {
		return deps, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	deps.Tracing = tracing
	deps.closers = append(deps.closers, tracing.Shutdown)

	if err := openStore(ctx, cfg, log, deps); err != nil {
		return deps, err
	}

	deps.Slots = newSlotGenerator(deps.Store, cfg)
	deps.Health.Describe("slot_cache", cfg.Redis.Enabled)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		deps.closers = append(deps.closers, func(context.Context) error { return client.Close() })

		backend := slots.NewRedisBackend(client)
		ttl := time.Duration(cfg.Scheduling.SlotCacheTTLSeconds) * time.Second
		deps.Slots = slots.NewCachedGenerator(deps.Slots, backend, ttl, log, deps.Metrics)
		deps.Health.Depend("redis", backend.PingContext, false)
		log.WithComponent("bootstrap").Infof("Slot cache enabled on %s", cfg.Redis.Addr())
	}

	sink, err := openSink(cfg, log, deps)
	if err != nil {
		return deps, err
	}
	dispatcher := notification.NewDispatcher(sink, log, deps.Metrics)
	deps.Notifier = dispatcher
	deps.closers = append(deps.closers, dispatcher.Close)

	return deps, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger, deps *Dependencies) error {
	switch cfg.Database.Driver {
	case "memory":
		log.WithComponent("bootstrap").Warn("Using the in-memory store; data is lost on restart")
		deps.Health.Describe("store", "memory")
		deps.Store = memstore.New()
		deps.Directory = memstore.NewDirectory()
		return nil

	case "postgres":
		db, err := database.NewConnection(&cfg.Database, log)
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, func(context.Context) error { return db.Close() })

		if cfg.Database.AutoMigrate {
			if err := db.CreateSchema(ctx); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}

		st := store.New(db, deps.Metrics)
		deps.Store = st
		deps.Directory = store.NewDirectory(st)
		deps.Health.Describe("store", "postgres")
		deps.Health.Depend("database", monitoring.SQLProbe(db.DB), true)
		return nil
	}
	return fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
}

func openSink(cfg *config.Config, log *logger.Logger, deps *Dependencies) (interfaces.NotificationSink, error) {
	if !cfg.RabbitMQ.Enabled {
		deps.Health.Describe("notifications", "log")
		return notification.NewLogSink(log), nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	deps.closers = append(deps.closers, func(context.Context) error { return conn.Close() })

	sink, err := notification.NewRabbitSink(conn, cfg.RabbitMQ.NotificationQueue)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, func(context.Context) error { return sink.Close() })

	deps.Health.Describe("notifications", "rabbitmq")
	deps.Health.Depend("rabbitmq", func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}, false)
	log.WithComponent("bootstrap").Infof("Publishing notifications to queue %s", cfg.RabbitMQ.NotificationQueue)
	return sink, nil
}

func newSlotGenerator(repos interfaces.Repositories, cfg *config.Config) interfaces.SlotSource {
	return slots.NewGenerator(repos, cfg.Scheduling.MaxDailyAppointments)
}
