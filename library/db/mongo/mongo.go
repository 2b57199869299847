// Package mongo stores search snapshots in MongoDB.
package mongo

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Laisky/tracker-search/library/log"
)

const (
	dialTimeout = 15 * time.Second
	heartbeat   = 10 * time.Second
	maxPoolSize = 10
)

// DB is a handle on one database.
type DB interface {
	Close(ctx context.Context) error
	GetCol(colName string) *mongo.Collection
	CurrentDB() *mongo.Database
}

// DialInfo defines the MongoDB connection information.
type DialInfo struct {
	URI    string
	DBName string
}

type db struct {
	cli       *mongo.Client
	name      string
	closeOnce sync.Once
}

// pingMongo is swapped in tests.
var pingMongo = func(ctx context.Context, cli *mongo.Client) error {
	return cli.Ping(ctx, readpref.Primary())
}

// NewDB connects to dialInfo.URI and pings the primary.
func NewDB(ctx context.Context, dialInfo DialInfo) (DB, error) {
	if dialInfo.URI == "" {
		return nil, errors.New("mongo uri cannot be empty")
	}
	if dialInfo.DBName == "" {
		return nil, errors.New("mongo database cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(dialInfo.URI).
		SetAppName("tracker-search").
		SetConnectTimeout(dialTimeout).
		SetServerSelectionTimeout(dialTimeout).
		SetHeartbeatInterval(heartbeat).
		SetMaxPoolSize(maxPoolSize).
		SetRetryWrites(true))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}

	if err = pingMongo(ctx, cli); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}

	log.Logger.Info("connected to mongodb", zap.String("db", dialInfo.DBName))
	return &db{cli: cli, name: dialInfo.DBName}, nil
}

// CurrentDB returns the database named in the dial info.
func (d *db) CurrentDB() *mongo.Database {
	return d.cli.Database(d.name)
}

// GetCol returns a collection handle by name.
func (d *db) GetCol(colName string) *mongo.Collection {
	return d.CurrentDB().Collection(colName)
}

// Close disconnects the client. Later calls do nothing.
func (d *db) Close(ctx context.Context) (err error) {
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		if err = d.cli.Disconnect(ctx); err != nil {
			err = errors.Wrap(err, "disconnect mongo")
		}
	})
	return err
}
