package configuration

import "time"

type PostgresConfig struct {
	PoolMaxOpenConns int
	Connection       map[string]string
}

type SchedulerConfiguration struct {
	MetricsPort uint16

	// Type of database used - must be either 'postgres' or 'sqlite'
	DatabaseType string
	// Absolute or relative path for the sqlite database, including the db
	// name. Only read when DatabaseType is 'sqlite'.
	DatabasePath string
	// Connection details for postgres; ignored unless DatabaseType is
	// 'postgres'.
	Postgres PostgresConfig

	// How often the pending backlog is swept for jobs to schedule.
	SchedulingInterval time.Duration
	// How often every active worker is probed for liveness.
	WorkerProbeInterval time.Duration
	// Upper bound on a single liveness probe.
	ProbeTimeout time.Duration
	// How long a probe result may be reused during allocation.
	// Zero disables caching and every allocation probes afresh.
	ProbeCacheTTL time.Duration
}
