package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/franzego/dispatchd/pkg/logger"
)

// Store persists templates, notifications and their attempt logs.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: db must not be nil")
	}
	return &Store{db: db, log: logger.WithModule("store")}, nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
