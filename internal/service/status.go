package service

import (
	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/storage"
	"github.com/baouih/binance-sub015/internal/trailing"
)

// SnapshotPositions reads the last persisted position set, so `status` can
// report tracked positions without talking to the running process.
func SnapshotPositions(cfg config.StorageConfig) ([]trailing.Position, error) {
	var backend storage.Backend
	if cfg.Backend == "redis" {
		redisBackend, err := storage.NewRedisBackend(cfg)
		if err != nil {
			return nil, err
		}
		defer redisBackend.Close()
		backend = redisBackend
	} else {
		backend = storage.NewFileBackend(cfg.StateFile, cfg.PositionsFile)
	}
	return backend.LoadPositions()
}
