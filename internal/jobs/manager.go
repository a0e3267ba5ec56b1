package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/events"
	"github.com/yourusername/scrape-forge/internal/logger"
	"github.com/yourusername/scrape-forge/internal/progress"
	"github.com/yourusername/scrape-forge/internal/storage"
	"github.com/yourusername/scrape-forge/internal/supervisor"
	"github.com/yourusername/scrape-forge/internal/template"
)

const (
	progressLaunching = "Launching worker..."
	progressCompleted = "Completed successfully."

	noteArtifactMissing = "Output file could not be renamed automatically."
)

// Injector はソース種別のテンプレートから起動定義を作成します。
type Injector interface {
	Inject(kind string, params template.Parameters, workDir string) (*template.Definition, error)
}

// Runner はワーカーを1回実行します。
type Runner interface {
	Run(ctx context.Context, spec supervisor.Spec, onEvent supervisor.EventFunc) (supervisor.Outcome, error)
}

// Reconciler はワーカーの出力を正規の成果物に整理します。
type Reconciler interface {
	Reconcile(ctx context.Context, req artifact.Request) (*artifact.Result, error)
}

// Dependencies は Manager が利用するコンポーネントです。
type Dependencies struct {
	Registry   *Registry
	Injector   Injector
	Runner     Runner
	Reconciler Reconciler
	Artifacts  *storage.Local
	Notifier   events.Notifier
	Logger     *slog.Logger
}

// Manager はジョブの投入と実行、状態管理を担います。
// ジョブごとに 1 つのゴルーチンでワーカーを監視します。
type Manager struct {
	registry   *Registry
	injector   Injector
	runner     Runner
	reconciler Reconciler
	artifacts  *storage.Local
	notifier   events.Notifier
	logger     *slog.Logger
	workDir    string

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	cancels map[int64]context.CancelCauseFunc
	done    map[int64]chan struct{}
	wg      sync.WaitGroup
}

// NewManager は Manager を初期化します。
func NewManager(deps Dependencies, workDir string) (*Manager, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is nil")
	}
	if deps.Injector == nil {
		return nil, errors.New("injector is nil")
	}
	if deps.Runner == nil {
		return nil, errors.New("runner is nil")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("reconciler is nil")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("artifact storage is nil")
	}
	if deps.Notifier == nil {
		deps.Notifier = events.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(workDir) == "" {
		workDir = "."
	}

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Manager{
		registry:   deps.Registry,
		injector:   deps.Injector,
		runner:     deps.Runner,
		reconciler: deps.Reconciler,
		artifacts:  deps.Artifacts,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		workDir:    workDir,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		cancels:    make(map[int64]context.CancelCauseFunc),
		done:       make(map[int64]chan struct{}),
	}, nil
}

// Submit はテンプレートを注入してからジョブを登録し、ワーカーを非同期で起動します。
// 未知のソース種別や不正な検索条件はジョブを作らずにエラーを返します。
func (m *Manager) Submit(ctx context.Context, sourceKind string, params Parameters) (Job, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return Job{}, ErrShuttingDown
	}

	def, err := m.injector.Inject(sourceKind, params, m.workDir)
	if err != nil {
		return Job{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.cleanup(ctx, def)
		return Job{}, ErrShuttingDown
	}
	job := m.registry.Create(sourceKind, def.Parameters)
	jobAttrs := []slog.Attr{
		slog.Int64("job_id", job.ID),
		slog.String("source", sourceKind),
	}
	jobCtx, cancel := context.WithCancelCause(m.baseCtx)
	jobCtx = logger.WithContext(jobCtx, jobAttrs...)
	m.cancels[job.ID] = cancel
	m.done[job.ID] = make(chan struct{})
	m.wg.Add(1)
	m.mu.Unlock()

	// 投入ログだけはリクエスト側の属性（request_id など）と紐付ける
	m.logger.InfoContext(logger.WithContext(ctx, jobAttrs...), "job submitted",
		"query", def.Parameters.Query,
		"locality", def.Parameters.Locality,
		"page_limit", def.Parameters.PageLimit,
	)
	m.publish(jobCtx, events.TypeCreated, job)

	go m.execute(jobCtx, job, def)
	return job, nil
}

// Get はジョブのスナップショットを返します。
func (m *Manager) Get(id int64) (Job, error) {
	return m.registry.Get(id)
}

// List は全ジョブを ID の降順で返します。
func (m *Manager) List() []Job {
	return m.registry.List()
}

// Cancel は実行中のジョブを取り消します。結果はジョブの状態に error / CANCELLED として反映されます。
func (m *Manager) Cancel(id int64) error {
	job, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if job.Status != StatusRunning {
		return fmt.Errorf("%w: %d", ErrJobNotRunning, id)
	}

	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrJobNotRunning, id)
	}
	cancel(supervisor.ErrCancelled)
	return nil
}

// Wait はジョブが終了するか ctx が終わるまで待ち、最新のスナップショットを返します。
func (m *Manager) Wait(ctx context.Context, id int64) (Job, error) {
	m.mu.Lock()
	done, ok := m.done[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	return m.registry.Get(id)
}

// OpenArtifact はジョブの成果物を開きます。呼び出し側で Close してください。
func (m *Manager) OpenArtifact(id int64) (*os.File, os.FileInfo, Job, error) {
	job, err := m.registry.Get(id)
	if err != nil {
		return nil, nil, Job{}, err
	}
	if job.ArtifactPath == "" {
		return nil, nil, job, fmt.Errorf("%w: job %d has no artifact", ErrArtifactUnavailable, id)
	}
	file, info, err := m.artifacts.Open(filepath.Base(job.ArtifactPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, job, fmt.Errorf("%w: %s was removed", ErrArtifactUnavailable, filepath.Base(job.ArtifactPath))
		}
		return nil, nil, job, err
	}
	return file, info, job, nil
}

// Shutdown は新規投入を止め、実行中のジョブを取り消して終了を待ちます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	running := len(m.cancels)
	m.mu.Unlock()

	if running > 0 {
		m.logger.Info("cancelling running jobs", "count", running, "total_jobs", m.registry.Len())
	}
	m.baseCancel(supervisor.ErrCancelled)

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}

	if err := m.notifier.Close(); err != nil {
		m.logger.Warn("failed to close notifier", "error", err)
	}
	return nil
}

func (m *Manager) execute(ctx context.Context, job Job, def *template.Definition) {
	defer m.wg.Done()
	defer m.release(job.ID)
	defer m.cleanup(ctx, def)
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "job panicked", "panic", r, "stack", string(debug.Stack()))
			m.fail(ctx, job.ID, CodeInternal, fmt.Sprintf("internal error: %v", r))
			return
		}
		if current, err := m.registry.Get(job.ID); err == nil && current.Status == StatusRunning {
			m.fail(ctx, job.ID, CodeInternal, "job finished without a result")
		}
	}()

	launchedAt := time.Now().UTC()
	m.update(ctx, job.ID, func(j *Job) {
		j.Progress = progressLaunching
		j.StartedAt = &launchedAt
	})

	outcome, err := m.runner.Run(ctx, supervisor.Spec{Argv: def.Argv, Dir: def.Dir}, func(ctx context.Context, ev progress.Event) {
		m.applyEvent(ctx, job.ID, ev)
	})
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, supervisor.ErrCancelled) {
			m.fail(ctx, job.ID, CodeCancelled, "Cancelled")
			return
		}
		m.logger.ErrorContext(ctx, "worker launch failed", "error", err)
		m.fail(ctx, job.ID, CodeOf(err), err.Error())
		return
	}
	if !outcome.StartedAt.IsZero() {
		m.update(ctx, job.ID, func(j *Job) {
			started := outcome.StartedAt
			j.StartedAt = &started
		})
	}

	switch {
	case outcome.State == supervisor.StateTimedOut:
		m.fail(ctx, job.ID, CodeTimeout, "Timeout")
		return
	case outcome.State == supervisor.StateCancelled:
		m.fail(ctx, job.ID, CodeCancelled, "Cancelled")
		return
	case outcome.ExitCode != 0:
		detail := strings.TrimSpace(outcome.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("worker exited with code %d", outcome.ExitCode)
		}
		m.logger.WarnContext(ctx, "worker exited with error", "exit_code", outcome.ExitCode)
		m.fail(ctx, job.ID, CodeWorkerExitedNonZero, detail)
		return
	}

	m.finish(ctx, job, def)
}

func (m *Manager) finish(ctx context.Context, job Job, def *template.Definition) {
	// ワーカーは正常終了しているので取り消しの影響を受けずに整理する
	result, err := m.reconciler.Reconcile(context.WithoutCancel(ctx), artifact.Request{
		JobID:      job.ID,
		SourceKind: job.SourceKind,
		CreatedAt:  job.CreatedAt,
		SourcePath: def.ArtifactPath,
		Ext:        def.ArtifactExt,
	})
	switch {
	case errors.Is(err, artifact.ErrArtifactNotFound):
		m.logger.WarnContext(ctx, "worker output not found", "expected", def.ArtifactPath)
		m.complete(ctx, job.ID, func(j *Job) {
			j.Note = noteArtifactMissing
		})
	case errors.Is(err, artifact.ErrArtifactRelocation):
		m.logger.WarnContext(ctx, "worker output could not be moved", "path", def.ArtifactPath, "error", err)
		m.complete(ctx, job.ID, func(j *Job) {
			j.Note = noteArtifactMissing
			if result != nil {
				j.RecordsReconciled = result.Rows
			}
		})
	case err != nil:
		m.logger.ErrorContext(ctx, "failed to reconcile artifact", "error", err)
		m.fail(ctx, job.ID, CodeOf(err), err.Error())
	default:
		m.complete(ctx, job.ID, func(j *Job) {
			j.ArtifactPath = result.Path
			j.RecordsReconciled = result.Rows
			if j.RecordsObserved != result.Rows {
				j.Note = fmt.Sprintf("Worker reported %d records but the artifact contains %d.", j.RecordsObserved, result.Rows)
			}
		})
	}
}

func (m *Manager) applyEvent(ctx context.Context, id int64, ev progress.Event) {
	m.update(ctx, id, func(j *Job) {
		j.Progress = ev.Message()
		if ev.Kind == progress.KindCaptured {
			j.RecordsObserved++
		}
	})
}

func (m *Manager) complete(ctx context.Context, id int64, mutate func(*Job)) {
	job, err := m.registry.Update(id, func(j *Job) {
		mutate(j)
		j.Status = StatusCompleted
		j.Progress = progressCompleted
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to mark job completed", "error", err)
		return
	}
	m.logger.InfoContext(ctx, "job completed",
		"records_observed", job.RecordsObserved,
		"records_reconciled", job.RecordsReconciled,
		"artifact", filepath.Base(job.ArtifactPath),
	)
	m.publish(ctx, events.TypeCompleted, job)
}

func (m *Manager) fail(ctx context.Context, id int64, code ErrorCode, detail string) {
	job, err := m.registry.Update(id, func(j *Job) {
		j.Status = StatusFailed
		j.ErrorCode = code
		j.ErrorDetail = detail
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to mark job failed", "error", err)
		return
	}
	m.logger.WarnContext(ctx, "job failed", "code", string(code), "detail", detail)
	m.publish(ctx, events.TypeFailed, job)
}

func (m *Manager) update(ctx context.Context, id int64, mutate func(*Job)) {
	if _, err := m.registry.Update(id, mutate); err != nil {
		m.logger.WarnContext(ctx, "failed to update job", "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, eventType string, job Job) {
	err := m.notifier.Publish(context.WithoutCancel(ctx), events.Message{
		Type:   eventType,
		JobID:  job.ID,
		Status: string(job.Status),
		Job:    job,
		At:     time.Now().UTC(),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish job event", "type", eventType, "error", err)
	}
}

func (m *Manager) cleanup(ctx context.Context, def *template.Definition) {
	if err := def.Cleanup(); err != nil {
		m.logger.WarnContext(ctx, "failed to remove worker config", "path", def.ConfigPath, "error", err)
	}
}

func (m *Manager) release(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel(nil)
		delete(m.cancels, id)
	}
	if done, ok := m.done[id]; ok {
		close(done)
		delete(m.done, id)
	}
}
