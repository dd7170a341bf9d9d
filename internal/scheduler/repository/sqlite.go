package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

// SQLiteRepository persists jobs and workers in a single sqlite database.
type SQLiteRepository struct {
	db *sql.DB

	// sqlite only allows one writer at a time, so writes are serialized
	// to avoid SQLITE_BUSY errors.
	writeLock sync.Mutex
}

func NewSQLiteRepository(databasePath string) (*SQLiteRepository, func(), error) {
	dbDir := filepath.Dir(databasePath)
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if errMkDir := os.MkdirAll(dbDir, 0o755); errMkDir != nil {
			return nil, func() {}, errors.Wrapf(errMkDir, "could not make directory at %s for sqlite db", dbDir)
		}
	}

	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, func() {}, errors.Wrapf(err, "error opening sqlite db at %s", databasePath)
	}

	repo := &SQLiteRepository{db: db}
	return repo, func() {
		if err := db.Close(); err != nil {
			log.Warnf("error closing sqlite database: %v", err)
		}
	}, nil
}

// Setup creates the jobs and workers tables if they do not exist yet.
func (r *SQLiteRepository) Setup(ctx context.Context) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	setupStmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS jobs (
			Id TEXT PRIMARY KEY,
			OwnerId TEXT,
			Title TEXT,
			JobType TEXT,
			Priority INT,
			Config TEXT,
			Status TEXT,
			Progress REAL,
			WorkerId TEXT,
			ErrorMessage TEXT,
			Result TEXT,
			CreatedAt INT,
			StartedAt INT,
			CompletedAt INT)`,
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
			LastProbedAt INT,
			CreatedAt INT)`,
	}

	for _, stmt := range setupStmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "error executing setup statement %q", stmt)
		}
	}
	return nil
}

func (r *SQLiteRepository) HealthCheck(ctx context.Context) (bool, error) {
	row := r.db.QueryRowContext(ctx, "SELECT 1")
	var col int
	if err := row.Scan(&col); err != nil {
		return false, fmt.Errorf("sqlite health check failed: %v", err)
	}
	return true, nil
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	config, err := marshalPayload(job.Config)
	if err != nil {
		return err
	}
	result, err := marshalPayload(job.Result)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (Id, OwnerId, Title, JobType, Priority, Config, Status, Progress,
			WorkerId, ErrorMessage, Result, CreatedAt, StartedAt, CompletedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.Title, job.JobType, job.Priority, config,
		string(job.Status), job.Progress, job.WorkerID, job.ErrorMessage, result,
		job.CreatedAt.UnixNano(), unixNanoOrNil(job.StartedAt), unixNanoOrNil(job.CompletedAt))
	return errors.Wrap(err, "error inserting job")
}

const jobColumns = `Id, OwnerId, Title, JobType, Priority, Config, Status, Progress,
	WorkerId, ErrorMessage, Result, CreatedAt, StartedAt, CompletedAt`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE Id = ?", id)
	return scanJob(row)
}

func (r *SQLiteRepository) GetJobForOwner(ctx context.Context, id string, ownerID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE Id = ? AND OwnerId = ?", id, ownerID)
	return scanJob(row)
}

func (r *SQLiteRepository) ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE Status = ? ORDER BY CreatedAt ASC, Id ASC", string(status))
	if err != nil {
		return nil, errors.Wrap(err, "error listing jobs")
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) CountWorkerJobs(ctx context.Context, workerID string, status domain.JobStatus) (int, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE WorkerId = ? AND Status = ?", workerID, string(status))
	var count int
	err := row.Scan(&count)
	return count, errors.Wrap(err, "error counting worker jobs")
}

func (r *SQLiteRepository) CountOwnerJobs(ctx context.Context, ownerID string, status domain.JobStatus) (int, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE OwnerId = ? AND Status = ?", ownerID, string(status))
	var count int
	err := row.Scan(&count)
	return count, errors.Wrap(err, "error counting owner jobs")
}

// UpdateJob applies a partial update inside a single UPDATE statement so the
// ExpectStatus precondition and the write are atomic.
func (r *SQLiteRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (bool, error) {
	setClauses, args, err := buildJobUpdate(update, questionPlaceholders)
	if err != nil {
		return false, err
	}
	if len(setClauses) == 0 {
		return false, errors.New("empty job update")
	}

	stmt := "UPDATE jobs SET " + strings.Join(setClauses, ", ") + " WHERE Id = ?"
	args = append(args, id)
	if len(update.ExpectStatus) > 0 {
		stmt += " AND Status IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(update.ExpectStatus)), ", ") + ")"
		for _, status := range update.ExpectStatus {
			args = append(args, string(status))
		}
	}

	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	result, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, errors.Wrap(err, "error updating job")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Distinguish a failed precondition from a missing record.
		row := r.db.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE Id = ?", id)
		var col int
		if scanErr := row.Scan(&col); scanErr == sql.ErrNoRows {
			return false, ErrNotFound
		} else if scanErr != nil {
			return false, scanErr
		}
		return false, nil
	}
	return true, nil
}

func (r *SQLiteRepository) DeleteJob(ctx context.Context, id string) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	result, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE Id = ?", id)
	if err != nil {
		return errors.Wrap(err, "error deleting job")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) CreateWorker(ctx context.Context, worker *domain.Worker) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workers (Id, Name, Host, Port, SlotCount, Status, Active, LastProbedAt, CreatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		worker.ID, worker.Name, worker.Host, worker.Port, worker.SlotCount,
		string(worker.Status), boolToInt(worker.Active), unixNanoOrNil(worker.LastProbedAt),
		worker.CreatedAt.UnixNano())
	return errors.Wrap(err, "error inserting worker")
}

const workerColumns = "Id, Name, Host, Port, SlotCount, Status, Active, LastProbedAt, CreatedAt"

func (r *SQLiteRepository) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE Id = ?", id)
	return scanWorker(row)
}

func (r *SQLiteRepository) ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+workerColumns+" FROM workers WHERE Active = 1 ORDER BY CreatedAt ASC, Id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "error listing workers")
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func (r *SQLiteRepository) UpdateWorkerStatus(ctx context.Context, id string, status domain.WorkerStatus, probedAt *time.Time) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	var result sql.Result
	var err error
	if probedAt != nil {
		result, err = r.db.ExecContext(ctx,
			"UPDATE workers SET Status = ?, LastProbedAt = ? WHERE Id = ?",
			string(status), probedAt.UnixNano(), id)
	} else {
		result, err = r.db.ExecContext(ctx,
			"UPDATE workers SET Status = ? WHERE Id = ?", string(status), id)
	}
	if err != nil {
		return errors.Wrap(err, "error updating worker status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status, config, result string
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(&job.ID, &job.OwnerID, &job.Title, &job.JobType, &job.Priority,
		&config, &status, &job.Progress, &job.WorkerID, &job.ErrorMessage, &result,
		&createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "error scanning job")
	}

	job.Status = domain.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.StartedAt = timeFromNullInt(startedAt)
	job.CompletedAt = timeFromNullInt(completedAt)
	if job.Config, err = unmarshalPayload(config); err != nil {
		return nil, err
	}
	if job.Result, err = unmarshalPayload(result); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanWorker(row rowScanner) (*domain.Worker, error) {
	var worker domain.Worker
	var status string
	var active int
	var createdAt int64
	var lastProbedAt sql.NullInt64

	err := row.Scan(&worker.ID, &worker.Name, &worker.Host, &worker.Port, &worker.SlotCount,
		&status, &active, &lastProbedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "error scanning worker")
	}

	worker.Status = domain.WorkerStatus(status)
	worker.Active = active != 0
	worker.CreatedAt = time.Unix(0, createdAt).UTC()
	worker.LastProbedAt = timeFromNullInt(lastProbedAt)
	return &worker, nil
}

type placeholderFunc func(position int) string

func questionPlaceholders(int) string { return "?" }

// buildJobUpdate translates a JobUpdate into SET clauses and their
// arguments. The placeholder function accommodates the differing parameter
// syntax of sqlite (?) and postgres ($n).
func buildJobUpdate(update JobUpdate, placeholder placeholderFunc) ([]string, []interface{}, error) {
	var clauses []string
	var args []interface{}
	next := func() string {
		return placeholder(len(args) + 1)
	}

	if update.Status != nil {
		clauses = append(clauses, "Status = "+next())
		args = append(args, string(*update.Status))
	}
	if update.Progress != nil {
		clauses = append(clauses, "Progress = "+next())
		args = append(args, *update.Progress)
	}
	if update.WorkerID != nil {
		clauses = append(clauses, "WorkerId = "+next())
		args = append(args, *update.WorkerID)
	} else if update.ClearWorker {
		clauses = append(clauses, "WorkerId = ''")
	}
	if update.StartedAt != nil {
		clauses = append(clauses, "StartedAt = "+next())
		args = append(args, update.StartedAt.UnixNano())
	} else if update.ClearStartedAt {
		clauses = append(clauses, "StartedAt = NULL")
	}
	if update.CompletedAt != nil {
		clauses = append(clauses, "CompletedAt = "+next())
		args = append(args, update.CompletedAt.UnixNano())
	} else if update.ClearCompletedAt {
		clauses = append(clauses, "CompletedAt = NULL")
	}
	if update.Result != nil {
		result, err := marshalPayload(update.Result)
		if err != nil {
			return nil, nil, err
		}
		clauses = append(clauses, "Result = "+next())
		args = append(args, result)
	} else if update.ClearResult {
		clauses = append(clauses, "Result = ''")
	}
	if update.ErrorMessage != nil {
		clauses = append(clauses, "ErrorMessage = "+next())
		args = append(args, *update.ErrorMessage)
	} else if update.ClearError {
		clauses = append(clauses, "ErrorMessage = ''")
	}
	return clauses, args, nil
}

func marshalPayload(payload map[string]interface{}) (string, error) {
	if payload == nil {
		return "", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "error marshalling payload")
	}
	return string(data), nil
}

func unmarshalPayload(data string) (map[string]interface{}, error) {
	if data == "" {
		return nil, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling payload")
	}
	return payload, nil
}

func unixNanoOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFromNullInt(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
