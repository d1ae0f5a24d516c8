package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/pkg/retry"
	"fitstudio/internal/repository"
	"fitstudio/internal/repository/mongostore"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Connect opens a relational database: postgres for postgres:// DSNs,
// otherwise pure-Go sqlite.
func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		log.Info("connecting to postgres")
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	log.Info("using sqlite", zap.String("dsn", dsn))
	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		cfg,
	)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	// with shared-cache memory databases.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// IsMongoDSN reports whether dsn points at the document store.
func IsMongoDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://")
}

// ConnectMongo dials and pings the document store.
func ConnectMongo(ctx context.Context, dsn string, timeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(dsn).SetTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// OpenStore returns the identity store selected by the DSN scheme and makes
// sure its schema/indexes exist.
func OpenStore(ctx context.Context, dsn, dbName string, timeout time.Duration, log *zap.Logger) (user.Store, error) {
	policy := retry.DefaultPolicy()
	policy.Timeout = timeout

	if IsMongoDSN(dsn) {
		log.Info("connecting to mongodb", zap.String("database", dbName))
		client, err := ConnectMongo(ctx, dsn, timeout)
		if err != nil {
			return nil, err
		}
		store := mongostore.New(client, dbName, policy)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return store, nil
	}

	db, err := Connect(dsn, log)
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return repository.NewUserRepository(db, policy), nil
}
