package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/orderproc/domain"
)

var _ domain.StressRunRepository = (*Repository)(nil)

// stressConfig stores a domain.StressConfig as a JSON column.
type stressConfig domain.StressConfig

// Scan implements the sql.Scanner interface.
func (c *stressConfig) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = stressConfig{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return json.Unmarshal(raw, (*domain.StressConfig)(c))
}

// Value implements the driver.Valuer interface.
func (c stressConfig) Value() (driver.Value, error) {
	raw, err := json.Marshal(domain.StressConfig(c))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// dbStressRun represents a stress run as stored in the database.
type dbStressRun struct {
	ID                    uuid.UUID    `db:"id"`
	Status                string       `db:"status"`
	Message               string       `db:"message"`
	Config                stressConfig `db:"config"`
	TotalOrders           int          `db:"total_orders"`
	ProcessedOrders       int          `db:"processed_orders"`
	SuccessfulOrders      int          `db:"successful_orders"`
	FailedOrders          int          `db:"failed_orders"`
	DurationMillis        int64        `db:"duration_millis"`
	Throughput            float64      `db:"throughput"`
	AvgBatchLatencyMillis float64      `db:"avg_batch_latency_millis"`
	SuccessRate           float64      `db:"success_rate"`
	ErrorRate             float64      `db:"error_rate"`
	StartedAt             time.Time    `db:"started_at"`
	FinishedAt            sql.NullTime `db:"finished_at"`
}

func fromDomainStressRun(run *domain.StressResult) *dbStressRun {
	row := &dbStressRun{
		ID:                    run.ID,
		Status:                run.Status,
		Message:               run.Message,
		Config:                stressConfig(run.Config),
		TotalOrders:           run.TotalOrders,
		ProcessedOrders:       run.ProcessedOrders,
		SuccessfulOrders:      run.SuccessfulOrders,
		FailedOrders:          run.FailedOrders,
		DurationMillis:        run.DurationMillis,
		Throughput:            run.Throughput,
		AvgBatchLatencyMillis: run.AvgBatchLatencyMillis,
		SuccessRate:           run.SuccessRate,
		ErrorRate:             run.ErrorRate,
		StartedAt:             run.StartedAt.UTC(),
	}
	if run.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	return row
}

func toDomainStressRun(row *dbStressRun) *domain.StressResult {
	run := &domain.StressResult{
		ID:                    row.ID,
		Status:                row.Status,
		Message:               row.Message,
		Config:                domain.StressConfig(row.Config),
		TotalOrders:           row.TotalOrders,
		ProcessedOrders:       row.ProcessedOrders,
		SuccessfulOrders:      row.SuccessfulOrders,
		FailedOrders:          row.FailedOrders,
		DurationMillis:        row.DurationMillis,
		Throughput:            row.Throughput,
		AvgBatchLatencyMillis: row.AvgBatchLatencyMillis,
		SuccessRate:           row.SuccessRate,
		ErrorRate:             row.ErrorRate,
		StartedAt:             row.StartedAt,
	}
	if row.FinishedAt.Valid {
		finished := row.FinishedAt.Time
		run.FinishedAt = &finished
	}
	return run
}

// InsertStressRun records a new stress run.
func (repo *Repository) InsertStressRun(ctx context.Context, run *domain.StressResult) error {
	query := `INSERT INTO stress_runs (id, status, message, config, total_orders, processed_orders, successful_orders,
				failed_orders, duration_millis, throughput, avg_batch_latency_millis, success_rate, error_rate, started_at, finished_at)
			  VALUES (:id, :status, :message, :config, :total_orders, :processed_orders, :successful_orders,
				:failed_orders, :duration_millis, :throughput, :avg_batch_latency_millis, :success_rate, :error_rate, :started_at, :finished_at)`

	_, err := repo.dbConn.NamedExecContext(ctx, query, fromDomainStressRun(run))
	if err != nil {
		return fmt.Errorf("inserting stress run %s : %w", run.ID, err)
	}
	return nil
}

// UpdateStressRun overwrites the status and counters of a stress run.
func (repo *Repository) UpdateStressRun(ctx context.Context, run *domain.StressResult) error {
	query := `UPDATE stress_runs SET
				status = :status,
				message = :message,
				processed_orders = :processed_orders,
				successful_orders = :successful_orders,
				failed_orders = :failed_orders,
				duration_millis = :duration_millis,
				throughput = :throughput,
				avg_batch_latency_millis = :avg_batch_latency_millis,
				success_rate = :success_rate,
				error_rate = :error_rate,
				finished_at = :finished_at
			  WHERE id = :id`

	result, err := repo.dbConn.NamedExecContext(ctx, query, fromDomainStressRun(run))
	if err != nil {
		return fmt.Errorf("updating stress run %s : %w", run.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("no stress run found with id %s", run.ID)
	}
	return nil
}

// GetStressRun retrieves a single stress run.
func (repo *Repository) GetStressRun(ctx context.Context, id uuid.UUID) (*domain.StressResult, error) {
	var row dbStressRun
	err := repo.dbConn.GetContext(ctx, &row, `SELECT * FROM stress_runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no stress run found with id %s", id)
		}
		return nil, fmt.Errorf("getting stress run %s : %w", id, err)
	}
	return toDomainStressRun(&row), nil
}

// GetStressRuns retrieves the most recent stress runs first.
func (repo *Repository) GetStressRuns(ctx context.Context, limit int) ([]*domain.StressResult, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows []*dbStressRun
	err := repo.dbConn.SelectContext(ctx, &rows, `SELECT * FROM stress_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("getting stress runs : %w", err)
	}

	runs := make([]*domain.StressResult, len(rows))
	for i, row := range rows {
		runs[i] = toDomainStressRun(row)
	}
	return runs, nil
}
