package repository

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ft54482/owl-workshop/internal/scheduler/configuration"
)

// SchedulerRepository is the durable store the scheduling core reads jobs
// and workers from. Both SQL backends implement it.
type SchedulerRepository interface {
	JobRepository
	WorkerRepository
	Setup(ctx context.Context) error
	HealthCheck(ctx context.Context) (bool, error)
}

// NewSchedulerRepository selects a store backend from config. The returned
// function releases the underlying database handles.
func NewSchedulerRepository(config *configuration.SchedulerConfiguration, log *log.Entry) (SchedulerRepository, func(), error) {
	switch config.DatabaseType {
	case "sqlite":
		log.Infof("using sqlite database at %s", config.DatabasePath)
		return NewSQLiteRepository(config.DatabasePath)
	case "postgres":
		log.Info("using postgres database")
		return NewPostgresRepository(config.Postgres.Connection, config.Postgres.PoolMaxOpenConns)
	}
	return nil, func() {}, errors.Errorf("database type %q not supported, must be either 'postgres' or 'sqlite'", config.DatabaseType)
}
