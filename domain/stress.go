package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderType selects how stress test orders are generated.
type OrderType string

const (
	OrderTypeSimple  OrderType = "SIMPLE"
	OrderTypeComplex OrderType = "COMPLEX"
)

// StressConfig is the configuration of a single stress run.
type StressConfig struct {
	NumOrders           int       `json:"numOrders"`
	BatchSize           int       `json:"batchSize"`
	DelayBetweenBatches int       `json:"delayBetweenBatches"` // milliseconds
	OrderType           OrderType `json:"orderType"`
}

// Stress run states.
const (
	StressRunning   = "running"
	StressCompleted = "completed"
	StressStopped   = "stopped"
	StressFailed    = "failed"
	StressRejected  = "rejected"
)

// StressResult is the outcome, or the live progress, of a stress run.
type StressResult struct {
	ID                    uuid.UUID    `json:"id"`
	Status                string       `json:"status"`
	Message               string       `json:"message,omitempty"`
	Config                StressConfig `json:"config"`
	TotalOrders           int          `json:"totalOrders"`
	ProcessedOrders       int          `json:"processedOrders"`
	SuccessfulOrders      int          `json:"successfulOrders"`
	FailedOrders          int          `json:"failedOrders"`
	DurationMillis        int64        `json:"durationMillis"`
	Throughput            float64      `json:"throughput"`
	AvgBatchLatencyMillis float64      `json:"avgBatchLatencyMillis"`
	SuccessRate           float64      `json:"successRate"`
	ErrorRate             float64      `json:"errorRate"`
	StartedAt             time.Time    `json:"startedAt"`
	FinishedAt            *time.Time   `json:"finishedAt,omitempty"`
}

// StressRunRepository defines persistence for stress run history.
type StressRunRepository interface {
	// InsertStressRun records a new run.
	InsertStressRun(ctx context.Context, run *StressResult) error
	// UpdateStressRun overwrites the counters and status of an existing run.
	UpdateStressRun(ctx context.Context, run *StressResult) error
	// GetStressRun returns a single run by id.
	GetStressRun(ctx context.Context, id uuid.UUID) (*StressResult, error)
	// GetStressRuns returns the most recent runs first. A limit of zero or less returns all runs.
	GetStressRuns(ctx context.Context, limit int) ([]*StressResult, error)
}
