package store

import (
	"attend-sync/internal/types"

	"github.com/sirupsen/logrus"
)

// NewStore selects the store implementation: Redis when REDIS_DSN is set,
// otherwise the in-memory store.
func NewStore(configManager types.ConfigManager) (Store, error) {
	dsn := configManager.GetRedisDSN()
	if dsn == "" {
		logrus.Info("Using in-memory store")
		return NewMemoryStore(), nil
	}

	s, err := NewRedisStore(dsn)
	if err != nil {
		return nil, err
	}
	logrus.Info("Using Redis store")
	return s, nil
}
