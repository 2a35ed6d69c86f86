package gateway

import (
	"context"
	"time"

	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

// Heartbeat keeps one worker's liveness row fresh. Every worker process
// runs exactly one of these.
type Heartbeat struct {
	workers  *repository.WorkerRepository
	workerID string
	interval time.Duration
}

// NewHeartbeat creates the liveness loop for a worker.
func NewHeartbeat(workers *repository.WorkerRepository, workerID string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{workers: workers, workerID: workerID, interval: interval}
}

// Run beats immediately and then on the interval until the context ends.
func (h *Heartbeat) Run(ctx context.Context) {
	ctx = logger.SetWorkerID(logger.SetComponent(ctx, "heartbeat"), h.workerID)
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.workers.Beat(ctx, h.workerID); err != nil {
		logger.CtxWarn(ctx, "heartbeat write failed: %v", err)
	}
}
