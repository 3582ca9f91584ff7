package orderproc

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/tfkr-ae/orderproc/domain"
)

// MemoryUsage is a coarse view of the process memory in bytes.
type MemoryUsage struct {
	UsedMemory uint64 `json:"usedMemory"`
	FreeMemory uint64 `json:"freeMemory"`
	MaxMemory  uint64 `json:"maxMemory"`
}

// Bottlenecks shows where orders are piling up and how much memory the process holds.
type Bottlenecks struct {
	StatusDistribution map[domain.OrderStatus]int `json:"statusDistribution"`
	MemoryUsage        MemoryUsage                `json:"memoryUsage"`
}

// Summary holds the headline numbers of the dashboard cards.
type Summary struct {
	TotalOrders    int     `json:"totalOrders"`
	TotalAmount    string  `json:"totalAmount"`
	AverageLatency float64 `json:"averageLatency"`
	ErrorRate      float64 `json:"errorRate"`
	SuccessRate    float64 `json:"successRate"`
}

// MemoryStats mirrors heap and non heap usage of the Go runtime.
type MemoryStats struct {
	HeapUsed         uint64 `json:"heapUsed"`
	HeapCommitted    uint64 `json:"heapCommitted"`
	HeapMax          uint64 `json:"heapMax"`
	NonHeapUsed      uint64 `json:"nonHeapUsed"`
	NonHeapCommitted uint64 `json:"nonHeapCommitted"`
	GCCount          uint32 `json:"gcCount"`
}

// PerformanceStats describes the process running the service.
type PerformanceStats struct {
	AvailableProcessors int     `json:"availableProcessors"`
	Goroutines          int     `json:"goroutines"`
	FreeMemory          uint64  `json:"freeMemory"`
	MaxMemory           uint64  `json:"maxMemory"`
	TotalMemory         uint64  `json:"totalMemory"`
	UptimeSeconds       float64 `json:"uptimeSeconds"`
}

// Bottlenecks returns the order count per status and the current memory usage.
func (svc *Service) Bottlenecks(ctx context.Context) (*Bottlenecks, error) {
	distribution, err := svc.Repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting orders by status : %w", err)
	}
	for _, status := range domain.OrderStatuses {
		if _, ok := distribution[status]; !ok {
			distribution[status] = 0
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return &Bottlenecks{
		StatusDistribution: distribution,
		MemoryUsage: MemoryUsage{
			UsedMemory: mem.HeapAlloc,
			FreeMemory: mem.HeapSys - mem.HeapAlloc,
			MaxMemory:  mem.Sys,
		},
	}, nil
}

// Summary combines stored order totals with the in-memory processing rates.
func (svc *Service) Summary(ctx context.Context) (*Summary, error) {
	total, err := svc.Repo.CountOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting orders : %w", err)
	}
	amount, err := svc.Repo.AmountTotal(ctx)
	if err != nil {
		return nil, fmt.Errorf("summing order amounts : %w", err)
	}
	errorRate, successRate := svc.Analytics.Rates()
	return &Summary{
		TotalOrders:    total,
		TotalAmount:    amount,
		AverageLatency: svc.Analytics.Latency().AverageLatency,
		ErrorRate:      errorRate,
		SuccessRate:    successRate,
	}, nil
}

// StressHistory returns the most recent stress runs first.
func (svc *Service) StressHistory(ctx context.Context, limit int) ([]*domain.StressResult, error) {
	return svc.Repo.GetStressRuns(ctx, limit)
}

func (svc *Service) MemoryStats() MemoryStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return MemoryStats{
		HeapUsed:         mem.HeapAlloc,
		HeapCommitted:    mem.HeapSys,
		HeapMax:          mem.Sys,
		NonHeapUsed:      mem.StackInuse + mem.MSpanInuse + mem.MCacheInuse,
		NonHeapCommitted: mem.StackSys + mem.MSpanSys + mem.MCacheSys + mem.GCSys + mem.OtherSys,
		GCCount:          mem.NumGC,
	}
}

func (svc *Service) PerformanceStats() PerformanceStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return PerformanceStats{
		AvailableProcessors: runtime.NumCPU(),
		Goroutines:          runtime.NumGoroutine(),
		FreeMemory:          mem.HeapSys - mem.HeapAlloc,
		MaxMemory:           mem.Sys,
		TotalMemory:         mem.HeapSys,
		UptimeSeconds:       svc.now().Sub(svc.startedAt).Round(time.Millisecond).Seconds(),
	}
}
