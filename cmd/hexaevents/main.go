package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	accountApp "github.com/davicafu/hexaevents/internal/account/application"
	accountDomain "github.com/davicafu/hexaevents/internal/account/domain"
	"github.com/davicafu/hexaevents/internal/config"
	"github.com/davicafu/hexaevents/internal/infra/analytics/clickhouse"
	"github.com/davicafu/hexaevents/internal/infra/db/mongodb"
	"github.com/davicafu/hexaevents/internal/infra/db/postgres"
	infraEvents "github.com/davicafu/hexaevents/internal/infra/events"
	"github.com/davicafu/hexaevents/internal/shared/application/eventstore"
	"github.com/davicafu/hexaevents/internal/shared/domain"
	sharedEvents "github.com/davicafu/hexaevents/internal/shared/domain/events"
	"github.com/davicafu/hexaevents/internal/shared/infra/events"
	inboundHttp "github.com/davicafu/hexaevents/internal/shared/infra/inbound/http"
	sharedBus "github.com/davicafu/hexaevents/internal/shared/infra/platform/bus"
	"github.com/davicafu/hexaevents/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/hexaevents/internal/shared/infra/platform/lock"
	"github.com/davicafu/hexaevents/internal/shared/infra/relayer"
	"github.com/davicafu/hexaevents/pkg/logger"
)

// closers acumula los cierres de recursos, que se ejecutan en orden inverso.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		panic(err)
	}
	log := logger.Logger()
	defer log.Sync() // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	health := inboundHttp.NewHealthHandler(2 * time.Second)

	// Registro global: cada bounded context aporta sus tipos de evento.
	registry, err := sharedEvents.NewRegistry()
	if err != nil {
		log.Fatal("failed to build event registry", zap.Error(err))
	}
	if err := registry.Merge(accountDomain.NewEventRegistry()); err != nil {
		log.Fatal("failed to register account events", zap.Error(err))
	}

	// ---------------- DB ----------------
	var (
		sqliteDB *sql.DB
		mongoDB  *mongo.Database
	)
	if cfg.StoreBackend == config.BackendSQLite || cfg.OutboxBackend == config.BackendSQLite {
		sqliteDB, err = sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		cleanup.add(func() { sqliteDB.Close() })
		health.Register("sqlite", sqliteDB.PingContext)
	}
	if cfg.StoreBackend == config.BackendMongo || cfg.OutboxBackend == config.BackendMongo {
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoMaxPool)
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		cleanup.add(func() { client.Disconnect(context.Background()) })
		mongoDB = client.Database(cfg.MongoDB)
		if err := mongodb.EnsureIndexes(ctx, mongoDB); err != nil {
			log.Fatal("failed to create MongoDB indexes", zap.Error(err))
		}
		health.Register("mongodb", func(ctx context.Context) error { return client.Ping(ctx, nil) })
	}

	// ---------------- Event Store ----------------
	var (
		eventRepo    domain.EventRepository
		snapshotRepo domain.SnapshotRepository
	)
	switch cfg.StoreBackend {
	case config.BackendMongo:
		eventRepo = mongodb.NewEventRepoMongoDB(mongoDB)
		snapshotRepo = mongodb.NewSnapshotRepoMongoDB(mongoDB)
	default:
		eventRepo = sqlite.NewEventRepoSQLite(sqliteDB)
		snapshotRepo = sqlite.NewSnapshotRepoSQLite(sqliteDB)
	}
	store := eventstore.New(eventRepo, snapshotRepo, registry, accountDomain.New, log,
		eventstore.WithSnapshotEvery(cfg.SnapshotEvery))

	// ---------------- Outbox ----------------
	var outboxRepo domain.OutboxRepository
	switch cfg.OutboxBackend {
	case config.BackendMongo:
		outboxRepo = mongodb.NewOutboxRepoMongoDB(mongoDB)
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to open PostgreSQL", zap.Error(err))
		}
		cleanup.add(func() { pg.Close() })
		health.Register("postgres", pg.PingContext)
		outboxRepo = postgres.NewOutboxRepoPostgres(pg)
	default:
		outboxRepo = sqlite.NewOutboxRepoSQLite(sqliteDB)
	}

	accountService := accountApp.NewAccountService(store, outboxRepo, log)

	// ---------------- Events ---------------
	var publisher sharedBus.Publisher
	switch cfg.PublishTarget {
	case config.TargetKafka:
		log.Info("🚀 Usando Kafka como destino de publicación", zap.Strings("brokers", cfg.KafkaBrokers))
		writer := events.NewKafkaWriter(cfg.KafkaBrokers)
		cleanup.add(func() { writer.Close() })
		publisher = events.NewKafkaPublisher(writer, accountDomain.AccountTopic, log)

		if cfg.TailEvents {
			reader := infraEvents.NewKafkaReader(cfg.KafkaBrokers, accountDomain.AccountTopic, "hexaevents-tail")
			cleanup.add(func() { reader.Close() })
			infraEvents.NewConsumerAdapter(reader, registry, tailHandler(log), log).Start(ctx)
		}
	case config.TargetClickHouse:
		log.Info("📊 Usando ClickHouse como destino de publicación", zap.String("addr", cfg.ClickHouseAddr))
		eventLog, err := clickhouse.NewEventLogPublisher(ctx, cfg.ClickHouseAddr, cfg.ClickHouseDatabase, log)
		if err != nil {
			log.Fatal("failed to open ClickHouse", zap.Error(err))
		}
		cleanup.add(func() { eventLog.Close() })
		publisher = eventLog
	default:
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		bus := infraEvents.NewInMemoryEventBus()
		cleanup.add(bus.Close)
		accountEvents := bus.Subscribe(accountDomain.AccountTopic, 100)
		go infraEvents.ConsumeChan(ctx, accountEvents, tailHandler(log), log)
		publisher = bus

		// Simulamos una cuenta para ver el circuito completo en local.
		if account, err := accountService.Open(ctx, uuid.New(), uuid.NewString()); err != nil {
			log.Error("Fallo al abrir la cuenta simulada", zap.Error(err))
		} else {
			log.Info("✅ Cuenta simulada abierta", zap.String("account_id", account.ID().String()))
		}
	}

	// ------------ Outbox Dispatcher ------------
	var locker lock.Locker
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, lock en memoria (solo una instancia)", zap.Error(err))
		rdb.Close()
		locker = lock.NewInMemoryLocker()
	} else {
		cleanup.add(func() { rdb.Close() })
		locker = lock.NewRedisLocker(rdb, "hexaevents:")
		health.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("✅ Redis conectado, lock distribuido habilitado")
	}

	dispatcher := relayer.NewDispatcher(outboxRepo, publisher, registry, cfg.OutboxBatchSize, cfg.OutboxConcurrency, log)
	scheduler := relayer.NewScheduler(dispatcher, locker, cfg.OutboxPeriod, cfg.OutboxLockTTL, log)

	// ---------------- HTTP ----------------
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	inboundHttp.RegisterHealthRoutes(router, health)
	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("❌ Proceso terminado con error", zap.Error(err))
	}
	log.Info("👋 hexaevents detenido")
}

// tailHandler registra cada evento publicado; sirve para seguir el circuito en local.
func tailHandler(log *zap.Logger) infraEvents.EventHandler {
	return infraEvents.EventHandlerFunc(func(ctx context.Context, e sharedEvents.IntegrationEvent) error {
		log.Info("📨 Evento recibido",
			zap.String("type", e.Type),
			zap.String("topic", e.Topic),
			zap.String("aggregate_id", e.AggregateID),
			zap.String("event_id", e.ID.String()),
		)
		return nil
	})
}
