package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/davicafu/formintake/internal/config"
	"github.com/davicafu/formintake/internal/health"
	"github.com/davicafu/formintake/internal/infra/db/memory"
	outboxMongo "github.com/davicafu/formintake/internal/infra/db/mongodb"
	outboxPostgres "github.com/davicafu/formintake/internal/infra/db/postgres"
	outboxSQLite "github.com/davicafu/formintake/internal/infra/db/sqlite"
	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	submissionDomain "github.com/davicafu/formintake/internal/submission/domain"
	submissionMongo "github.com/davicafu/formintake/internal/submission/infra/outbound/db/mongodb"
	submissionPostgres "github.com/davicafu/formintake/internal/submission/infra/outbound/db/postgres"
	submissionSQLite "github.com/davicafu/formintake/internal/submission/infra/outbound/db/sqlite"
)

const defaultMongoDB = "formintake"

// store agrupa los repositorios de un backend y su conexión compartida.
type store struct {
	submissions submissionDomain.SubmissionRepository
	outbox      outboxDomain.OutboxRepository
	ping        health.PingerFunc
	close       func(ctx context.Context) error
}

// openStore conecta con el backend indicado por STORE_URL y prepara el esquema.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store, error) {
	backend, err := cfg.StoreBackend()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	switch backend {
	case config.BackendMongo:
		return openMongo(ctx, cfg, log)
	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.StoreURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := submissionPostgres.InitPostgres(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("✅ Postgres conectado")
		return sqlStore(db, submissionPostgres.NewSubmissionRepoPostgres(db), outboxPostgres.NewOutboxRepoPostgres(db)), nil
	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// Un único escritor: evita SQLITE_BUSY y comparte la base :memory:
		db.SetMaxOpenConns(1)
		if err := submissionSQLite.InitSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("✅ SQLite abierto", zap.String("path", cfg.SQLitePath()))
		return sqlStore(db, submissionSQLite.NewSubmissionRepoSQLite(db), outboxSQLite.NewOutboxRepoSQLite(db)), nil
	default:
		log.Warn("⚠️ Store en memoria: los datos se pierden al reiniciar")
		mem := memory.NewStore()
		return &store{submissions: mem, outbox: mem, ping: mem.Ping, close: mem.Close}, nil
	}
}

func sqlStore(db *sql.DB, subs submissionDomain.SubmissionRepository, outbox outboxDomain.OutboxRepository) *store {
	return &store{
		submissions: subs,
		outbox:      outbox,
		ping:        db.PingContext,
		close:       func(context.Context) error { return db.Close() },
	}
}

func openMongo(ctx context.Context, cfg *config.Config, log *zap.Logger) (*store, error) {
	dbName := defaultMongoDB
	if cs, err := connstring.ParseAndValidate(cfg.StoreURL); err == nil && cs.Database != "" {
		dbName = cs.Database
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.StoreURL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	repo, err := submissionMongo.NewSubmissionRepoMongoDB(ctx, client, dbName, cfg.StoreTransactions)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := submissionMongo.EnsureIndexes(ctx, client.Database(dbName)); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info("✅ MongoDB conectado", zap.String("db", dbName), zap.Bool("transactions", cfg.StoreTransactions))
	return &store{
		submissions: repo,
		outbox:      outboxMongo.NewOutboxRepoMongoDB(client, dbName),
		ping:        func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
		close:       client.Disconnect,
	}, nil
}
