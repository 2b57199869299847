package cmd

import (
	"context"
	"database/sql"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Laisky/tracker-search/library/config"
	mongodb "github.com/Laisky/tracker-search/library/db/mongo"
	redisdb "github.com/Laisky/tracker-search/library/db/redis"
	"github.com/Laisky/tracker-search/library/db/s3"
	sqlsnapshot "github.com/Laisky/tracker-search/library/db/sql/snapshot"
	"github.com/Laisky/tracker-search/library/log"
	"github.com/Laisky/tracker-search/library/search"
)

const backendDialTimeout = 15 * time.Second

// snapshotBackends holds the configured snapshot stores.
// The concrete stores stay reachable for backend specific features such as listings.
type snapshotBackends struct {
	sql   *sqlsnapshot.Store
	redis *redisdb.DB
	mongo *mongodb.SnapshotStore
	s3    *s3.Store

	store   *search.MultiStore
	closers []func(context.Context) error
}

// openSnapshotBackends connects every backend listed in cfg.Backends.
// Backends already opened are closed again when a later one fails.
func openSnapshotBackends(ctx context.Context, cfg config.SnapshotSettings) (_ *snapshotBackends, err error) {
	b := &snapshotBackends{}
	defer func() {
		if err != nil {
			_ = b.Close(context.Background())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, backendDialTimeout)
	defer cancel()

	var stores []search.SnapshotStore
	for _, name := range cfg.Backends {
		switch name {
		case backendSQL:
			if b.sql, err = openSQLStore(ctx, b, cfg); err != nil {
				return nil, errors.Wrap(err, "sql snapshot backend")
			}
			stores = append(stores, b.sql)
		case backendRedis:
			b.redis = redisdb.NewDB(&goredis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}, redisdb.WithTTL(cfg.TTL))
			b.closers = append(b.closers, func(context.Context) error { return b.redis.Close() })
			if err = b.redis.Ping(ctx); err != nil {
				return nil, errors.Wrap(err, "redis snapshot backend")
			}
			stores = append(stores, b.redis)
		case backendMongo:
			var mdb mongodb.DB
			if mdb, err = mongodb.NewDB(ctx, mongodb.DialInfo{URI: cfg.Mongo.URI, DBName: cfg.Mongo.Database}); err != nil {
				return nil, errors.Wrap(err, "mongo snapshot backend")
			}
			b.closers = append(b.closers, mdb.Close)
			if b.mongo, err = mongodb.NewSnapshotStore(ctx, mdb, cfg.Mongo.Collection, cfg.TTL); err != nil {
				return nil, errors.Wrap(err, "mongo snapshot backend")
			}
			stores = append(stores, b.mongo)
		case backendS3:
			if b.s3, err = s3.New(s3.Config{
				Endpoint:  cfg.S3.Endpoint,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
				Bucket:    cfg.S3.Bucket,
				Prefix:    cfg.S3.Prefix,
				Secure:    cfg.S3.Secure,
				Region:    cfg.S3.Region,
			}); err != nil {
				return nil, errors.Wrap(err, "s3 snapshot backend")
			}
			stores = append(stores, b.s3)
		default:
			return nil, errors.Errorf("unknown snapshot backend %q", name)
		}

		log.Logger.Info("snapshot backend ready", zap.String("backend", name))
	}

	if len(stores) > 0 {
		b.store = search.NewMultiStore(stores...)
	}
	return b, nil
}

func openSQLStore(ctx context.Context, b *snapshotBackends, cfg config.SnapshotSettings) (*sqlsnapshot.Store, error) {
	db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.SQL.Driver)
	}
	b.closers = append(b.closers, func(context.Context) error { return db.Close() })

	if err = db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping")
	}

	return sqlsnapshot.New(ctx, db,
		sqlsnapshot.WithTableName(cfg.SQL.Table),
		sqlsnapshot.WithTTL(cfg.TTL),
	)
}

// Store returns the fan-out store, or nil when no backend is configured.
func (b *snapshotBackends) Store() search.SnapshotStore {
	if b == nil || b.store == nil {
		return nil
	}
	return b.store
}

// Close releases every backend in reverse opening order.
func (b *snapshotBackends) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}

	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(err, "close snapshot backend")
				continue
			}
			log.Logger.Warn("close snapshot backend", zap.Error(err))
		}
	}
	b.closers = nil
	return firstErr
}
