package app

import (
	"context"
	"fmt"

	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"

	"ridehail/internal/config"
	"ridehail/internal/repository"
	"ridehail/internal/repository/memory"
	"ridehail/internal/repository/mongodb"
	"ridehail/internal/repository/postgres"
)

// OpenRideStore connects the ride store selected by STORE_BACKEND and
// prepares its schema. The returned func releases the connection.
func OpenRideStore(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application, log *zap.Logger) (repository.RideRepository, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db, err := NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate rides table: %w", err)
		}
		log.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.DBName))
		return postgres.NewRideRepository(db), func() { _ = db.Close() }, nil

	case config.StoreBackendMongo:
		client, err := NewMongoClient(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		repo := mongodb.NewRideRepository(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ensure ride indexes: %w", err)
		}
		log.Info("connected to MongoDB", zap.String("database", cfg.Mongo.Database), zap.String("collection", cfg.Mongo.Collection))
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	case config.StoreBackendMemory:
		log.Warn("using in-memory ride store; rides are lost on restart")
		return memory.NewRideRepository(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
