package buildlog

import (
	"context"
	"sync"
)

// MemoryRepository keeps the most recent builds in process.
type MemoryRepository struct {
	mu     sync.Mutex
	builds []Build
	limit  int
}

// NewMemoryRepository keeps at most limit builds.
func NewMemoryRepository(limit int) *MemoryRepository {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryRepository{limit: limit}
}

func (r *MemoryRepository) Insert(_ context.Context, b Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds = append(r.builds, b)
	if over := len(r.builds) - r.limit; over > 0 {
		r.builds = append(r.builds[:0], r.builds[over:]...)
	}
	return nil
}

func (r *MemoryRepository) Recent(_ context.Context, limit int) ([]Build, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(limit, len(r.builds))
	out := make([]Build, 0, n)
	for i := len(r.builds) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.builds[i])
	}
	return out, nil
}
