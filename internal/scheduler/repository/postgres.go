package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ft54482/owl-workshop/internal/common/database"
	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

// PostgresRepository persists jobs and workers in postgres via a pgx pool.
type PostgresRepository struct {
	dbpool *pgxpool.Pool
}

func NewPostgresRepository(connection map[string]string, maxConns int) (*PostgresRepository, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(database.CreateConnectionString(connection))
	if err != nil {
		return nil, func() {}, errors.Wrap(err, "cannot parse postgres connection config")
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, func() {}, errors.Wrap(err, "cannot create postgres connection pool")
	}

	return &PostgresRepository{dbpool: pool}, pool.Close, nil
}

// Setup creates the jobs and workers tables if they do not exist yet.
func (r *PostgresRepository) Setup(ctx context.Context) error {
	setupStmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			Id TEXT PRIMARY KEY,
			OwnerId TEXT,
			Title TEXT,
			JobType TEXT,
			Priority INT,
			Config TEXT,
			Status TEXT,
			Progress DOUBLE PRECISION,
			WorkerId TEXT,
			ErrorMessage TEXT,
			Result TEXT,
			CreatedAt BIGINT,
			StartedAt BIGINT,
			CompletedAt BIGINT)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (Status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_worker_status ON jobs (WorkerId, Status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner_status ON jobs (OwnerId, Status)`,
		`CREATE TABLE IF NOT EXISTS workers (
			Id TEXT PRIMARY KEY,
			Name TEXT,
			Host TEXT,
			Port INT,
			SlotCount INT,
			Status TEXT,
			Active INT,
			LastProbedAt BIGINT,
			CreatedAt BIGINT)`,
	}

	for _, stmt := range setupStmts {
		if _, err := r.dbpool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "error executing setup statement %q", stmt)
		}
	}
	return nil
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) (bool, error) {
	row := r.dbpool.QueryRow(ctx, "SELECT 1")
	var col int
	if err := row.Scan(&col); err != nil {
		return false, errors.Wrap(err, "postgres health check failed")
	}
	return true, nil
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	config, err := marshalPayload(job.Config)
	if err != nil {
		return err
	}
	result, err := marshalPayload(job.Result)
	if err != nil {
		return err
	}

	_, err = r.dbpool.Exec(ctx,
		`INSERT INTO jobs (Id, OwnerId, Title, JobType, Priority, Config, Status, Progress,
			WorkerId, ErrorMessage, Result, CreatedAt, StartedAt, CompletedAt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.OwnerID, job.Title, job.JobType, job.Priority, config,
		string(job.Status), job.Progress, job.WorkerID, job.ErrorMessage, result,
		job.CreatedAt.UnixNano(), unixNanoOrNil(job.StartedAt), unixNanoOrNil(job.CompletedAt))
	return errors.Wrap(err, "error inserting job")
}

func (r *PostgresRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := r.dbpool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE Id = $1", id)
	return scanPgJob(row)
}

func (r *PostgresRepository) GetJobForOwner(ctx context.Context, id string, ownerID string) (*domain.Job, error) {
	row := r.dbpool.QueryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE Id = $1 AND OwnerId = $2", id, ownerID)
	return scanPgJob(row)
}

func (r *PostgresRepository) ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	rows, err := r.dbpool.Query(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE Status = $1 ORDER BY CreatedAt ASC, Id ASC", string(status))
	if err != nil {
		return nil, errors.Wrap(err, "error listing jobs")
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepository) CountWorkerJobs(ctx context.Context, workerID string, status domain.JobStatus) (int, error) {
	row := r.dbpool.QueryRow(ctx,
		"SELECT COUNT(*) FROM jobs WHERE WorkerId = $1 AND Status = $2", workerID, string(status))
	var count int
	err := row.Scan(&count)
	return count, errors.Wrap(err, "error counting worker jobs")
}

func (r *PostgresRepository) CountOwnerJobs(ctx context.Context, ownerID string, status domain.JobStatus) (int, error) {
	row := r.dbpool.QueryRow(ctx,
		"SELECT COUNT(*) FROM jobs WHERE OwnerId = $1 AND Status = $2", ownerID, string(status))
	var count int
	err := row.Scan(&count)
	return count, errors.Wrap(err, "error counting owner jobs")
}

func (r *PostgresRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (bool, error) {
	setClauses, args, err := buildJobUpdate(update, dollarPlaceholders)
	if err != nil {
		return false, err
	}
	if len(setClauses) == 0 {
		return false, errors.New("empty job update")
	}

	args = append(args, id)
	stmt := "UPDATE jobs SET " + strings.Join(setClauses, ", ") +
		" WHERE Id = $" + strconv.Itoa(len(args))
	if len(update.ExpectStatus) > 0 {
		placeholders := make([]string, 0, len(update.ExpectStatus))
		for _, status := range update.ExpectStatus {
			args = append(args, string(status))
			placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
		}
		stmt += " AND Status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	result, err := r.dbpool.Exec(ctx, stmt, args...)
	if err != nil {
		return false, errors.Wrap(err, "error updating job")
	}
	if result.RowsAffected() == 0 {
		row := r.dbpool.QueryRow(ctx, "SELECT 1 FROM jobs WHERE Id = $1", id)
		var col int
		if scanErr := row.Scan(&col); scanErr == pgx.ErrNoRows {
			return false, ErrNotFound
		} else if scanErr != nil {
			return false, scanErr
		}
		return false, nil
	}
	return true, nil
}

func (r *PostgresRepository) DeleteJob(ctx context.Context, id string) error {
	result, err := r.dbpool.Exec(ctx, "DELETE FROM jobs WHERE Id = $1", id)
	if err != nil {
		return errors.Wrap(err, "error deleting job")
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateWorker(ctx context.Context, worker *domain.Worker) error {
	_, err := r.dbpool.Exec(ctx,
		`INSERT INTO workers (Id, Name, Host, Port, SlotCount, Status, Active, LastProbedAt, CreatedAt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		worker.ID, worker.Name, worker.Host, worker.Port, worker.SlotCount,
		string(worker.Status), boolToInt(worker.Active), unixNanoOrNil(worker.LastProbedAt),
		worker.CreatedAt.UnixNano())
	return errors.Wrap(err, "error inserting worker")
}

func (r *PostgresRepository) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	row := r.dbpool.QueryRow(ctx, "SELECT "+workerColumns+" FROM workers WHERE Id = $1", id)
	return scanPgWorker(row)
}

func (r *PostgresRepository) ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := r.dbpool.Query(ctx,
		"SELECT "+workerColumns+" FROM workers WHERE Active = 1 ORDER BY CreatedAt ASC, Id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "error listing workers")
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		worker, err := scanPgWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func (r *PostgresRepository) UpdateWorkerStatus(ctx context.Context, id string, status domain.WorkerStatus, probedAt *time.Time) error {
	var rowsAffected int64
	if probedAt != nil {
		result, err := r.dbpool.Exec(ctx,
			"UPDATE workers SET Status = $1, LastProbedAt = $2 WHERE Id = $3",
			string(status), probedAt.UnixNano(), id)
		if err != nil {
			return errors.Wrap(err, "error updating worker status")
		}
		rowsAffected = result.RowsAffected()
	} else {
		result, err := r.dbpool.Exec(ctx,
			"UPDATE workers SET Status = $1 WHERE Id = $2", string(status), id)
		if err != nil {
			return errors.Wrap(err, "error updating worker status")
		}
		rowsAffected = result.RowsAffected()
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func dollarPlaceholders(position int) string {
	return "$" + strconv.Itoa(position)
}

func scanPgJob(row rowScanner) (*domain.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func scanPgWorker(row rowScanner) (*domain.Worker, error) {
	worker, err := scanWorker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return worker, err
}
