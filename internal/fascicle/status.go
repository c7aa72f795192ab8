package fascicle

import (
	"sync"

	"nervesim/internal/model"
)

// statusBoard tracks the state of every rank of the current run.
type statusBoard struct {
	mu       sync.RWMutex
	statuses []model.WorkerStatus
}

func (b *statusBoard) reset(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = make([]model.WorkerStatus, size)
}

func (b *statusBoard) set(rank int, status model.WorkerStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.statuses) <= rank {
		b.statuses = append(b.statuses, model.StatusPreparing)
	}
	b.statuses[rank] = status
}

func (b *statusBoard) snapshot() []model.WorkerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.WorkerStatus(nil), b.statuses...)
}
