package core

import (
	"context"
	"fmt"

	"reactorboard/internal/infra/persistence/postgres"
	"reactorboard/internal/infra/persistence/sqlite"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// StorageDriver identifies a central store implementation.
type StorageDriver string

const (
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and locates the stores.
type StorageConfig struct {
	Driver        StorageDriver
	SQLitePath    string
	PostgresDSN   string
	LocalCacheDir string
}

// OpenCentralStore opens the configured central store. Followers never hold
// one and receive a RoleViolation.
func OpenCentralStore(ctx context.Context, cfg StorageConfig, gate role.Gate) (domain.CentralStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageSQLite:
		return sqlite.OpenCentralStore(ctx, cfg.SQLitePath, gate)
	case StoragePostgres:
		return postgres.OpenCentralStore(ctx, cfg.PostgresDSN, gate)
	default:
		return nil, domain.ValidationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown storage driver %s", driver)}
	}
}

// OpenLocalCache opens the node-local event cache. It is available to every
// role.
func OpenLocalCache(ctx context.Context, cfg StorageConfig) (domain.LocalCache, error) {
	return sqlite.OpenLocalCache(ctx, cfg.LocalCacheDir)
}
