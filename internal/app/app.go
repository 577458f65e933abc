package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/pkg/lock"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
)

// Infra holds the storage, lock and broker backends selected by config.
type Infra struct {
	DB    *sqlx.DB
	Redis *goredis.Client

	Slots        repository.SlotRepository
	Appointments repository.AppointmentRepository
	Messages     repository.MessageRepository
	Outbox       repository.OutboxRepository

	Locker lock.Locker
	Broker messaging.Broker
}

// NewInfra connects the configured backends. The caller owns Close.
func NewInfra(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		infra.DB = db
		infra.Slots = postgres.NewSlotRepository(db)
		infra.Appointments = postgres.NewAppointmentRepository(db)
		infra.Messages = postgres.NewMessageRepository(db)
		infra.Outbox = postgres.NewOutboxRepository(db)
	default:
		log.Warn("using in-memory storage, data is lost on restart")
		infra.Slots = memory.NewSlotRepository()
		infra.Appointments = memory.NewAppointmentRepository()
		infra.Messages = memory.NewMessageRepository()
		infra.Outbox = memory.NewOutboxRepository()
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, redis.Config{URL: cfg.Redis.URL})
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Redis = client
		infra.Broker = redis.NewRedisBroker(client, log)
	} else {
		infra.Broker = messaging.NewLocalBroker(log)
	}

	switch cfg.Lock.Driver {
	case "redis":
		if infra.Redis == nil {
			infra.Close()
			return nil, fmt.Errorf("lock driver redis requires redis.enabled")
		}
		infra.Locker = lock.NewRedisLocker(infra.Redis, cfg.Lock.TTL)
	default:
		infra.Locker = lock.NewLocalLocker()
	}

	return infra, nil
}

// Checks returns readiness checks for the connected backends.
func (i *Infra) Checks() map[string]health.Check {
	checks := map[string]health.Check{}
	if i.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return i.DB.PingContext(ctx)
		}
	}
	if i.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return i.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (i *Infra) Close() {
	if i.Broker != nil {
		_ = i.Broker.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		_ = i.DB.Close()
	}
}
