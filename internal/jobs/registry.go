package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const initialProgress = "Initializing..."

// Registry はジョブ状態をメモリ上に保持します。
// ID の採番と登録は同じロックの中で行い、読み出しは常にコピーを返します。
type Registry struct {
	mu     sync.RWMutex
	nextID int64
	jobs   map[int64]*Job
	now    func() time.Time
}

// NewRegistry は Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[int64]*Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create は新しいジョブを running 状態で登録します。
func (r *Registry) Create(sourceKind string, params Parameters) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	job := &Job{
		ID:         r.nextID,
		Status:     StatusRunning,
		SourceKind: sourceKind,
		Parameters: params,
		Progress:   initialProgress,
		CreatedAt:  r.now(),
	}
	stored := job.clone()
	r.jobs[job.ID] = &stored
	return job.clone()
}

// Get はジョブのスナップショットを返します。
func (r *Registry) Get(id int64) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return job.clone(), nil
}

// List は全ジョブを ID の降順で返します。
func (r *Registry) List() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Update は mutate をロック内で適用し、更新後のスナップショットを返します。
// 終了状態のジョブは変更できず、ErrTerminalState を返します。
// 未知の状態への変更も破棄されます。
func (r *Registry) Update(id int64, mutate func(*Job)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return job.clone(), fmt.Errorf("%w: %d is %s", ErrTerminalState, id, job.Status)
	}

	draft := job.clone()
	mutate(&draft)
	draft.ID = job.ID
	draft.CreatedAt = job.CreatedAt
	if draft.Status != StatusRunning && !draft.Status.Terminal() {
		return job.clone(), fmt.Errorf("invalid status transition %s -> %s", job.Status, draft.Status)
	}
	if draft.Status.Terminal() && draft.FinishedAt == nil {
		now := r.now()
		draft.FinishedAt = &now
	}
	*job = draft
	return job.clone(), nil
}

// Len は登録済みジョブ数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
