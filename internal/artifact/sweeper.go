package artifact

import (
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/yourusername/scrape-forge/internal/storage"
)

// SweepStats は1回の削除処理の結果です。
type SweepStats struct {
	Scanned int
	Removed int
	Failed  int
}

// Sweeper は保持期間を過ぎた成果物を定期的に削除します。
// 削除の失敗はログに残すだけで、ジョブの状態やスケジューラには影響させません。
type Sweeper struct {
	store     *storage.Local
	maxAge    time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

// NewSweeper は Sweeper を作成します。
func NewSweeper(store *storage.Local, maxAge, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Sweep は now 時点で maxAge より古い成果物を削除します。
func (s *Sweeper) Sweep(now time.Time) SweepStats {
	var stats SweepStats
	entries, err := s.store.List()
	if err != nil {
		s.logger.Warn("artifact sweep: list failed", "dir", s.store.Root(), "error", err)
		return stats
	}

	cutoff := now.Add(-s.maxAge)
	for _, entry := range entries {
		stats.Scanned++
		if !entry.ModTime.Before(cutoff) {
			continue
		}
		if err := s.store.Remove(entry.Name); err != nil {
			stats.Failed++
			s.logger.Warn("artifact sweep: remove failed", "file", entry.Name, "error", err)
			continue
		}
		stats.Removed++
	}

	if stats.Removed > 0 || stats.Failed > 0 {
		s.logger.Info("artifact sweep finished",
			"scanned", stats.Scanned,
			"removed", stats.Removed,
			"failed", stats.Failed,
		)
	}
	return stats
}

// Start は gocron で Sweep を定期実行します。最初の実行は即時です。
func (s *Sweeper) Start() error {
	if s.scheduler != nil {
		return fmt.Errorf("sweeper already started")
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.Sweep(s.now())
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("initializing gocron job: %w", err)
	}
	scheduler.Start()
	s.scheduler = scheduler
	s.logger.Info("artifact sweeper started", "dir", s.store.Root(), "max_age", s.maxAge.String(), "interval", s.interval.String())
	return nil
}

// Shutdown はスケジューラを停止します。
func (s *Sweeper) Shutdown() error {
	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	return err
}
