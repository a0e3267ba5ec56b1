package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/config"
	"github.com/yourusername/scrape-forge/internal/events"
	"github.com/yourusername/scrape-forge/internal/jobs"
	"github.com/yourusername/scrape-forge/internal/storage"
	"github.com/yourusername/scrape-forge/internal/supervisor"
	"github.com/yourusername/scrape-forge/internal/template"
)

// services はサーバーが保持するジョブ関連のコンポーネントです。
type services struct {
	jobs    *jobs.Manager
	sweeper *artifact.Sweeper
}

func setupJobs(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services, error) {
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve WORK_DIR: %w", err)
	}
	outputDir := cfg.OutputDir
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(workDir, outputDir)
	}
	store, err := storage.NewLocal(outputDir)
	if err != nil {
		return nil, err
	}

	replayFeed := cfg.ReplayFeedPath
	if !filepath.IsAbs(replayFeed) {
		replayFeed = filepath.Join(workDir, replayFeed)
	}

	injector, err := template.New(template.Options{
		Dir: cfg.TemplateDir,
		Vars: map[string]string{
			"python":       cfg.WorkerPython,
			"replayWorker": cfg.ReplayWorkerPath,
			"replayFeed":   replayFeed,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Info("templates loaded", "sources", injector.Sources())

	notifier, err := setupNotifier(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	manager, err := jobs.NewManager(jobs.Dependencies{
		Registry: jobs.NewRegistry(),
		Injector: injector,
		Runner: supervisor.New(supervisor.Options{
			Timeout: cfg.JobTimeout(),
			Logger:  log,
		}),
		Reconciler: artifact.NewReconciler(store),
		Artifacts:  store,
		Notifier:   notifier,
		Logger:     log,
	}, workDir)
	if err != nil {
		_ = notifier.Close()
		return nil, err
	}

	sweeper := artifact.NewSweeper(store, cfg.ArtifactRetention(), cfg.SweepInterval(), log)
	if err := sweeper.Start(); err != nil {
		_ = notifier.Close()
		return nil, err
	}
	return &services{jobs: manager, sweeper: sweeper}, nil
}

// setupNotifier は EVENTS_REDIS_URL が設定されていれば Redis Pub/Sub に通知します。
// 接続確認に失敗しても起動は続けます。
func setupNotifier(ctx context.Context, cfg *config.Config, log *slog.Logger) (events.Notifier, error) {
	if cfg.EventsRedisURL == "" {
		return events.Noop{}, nil
	}
	notifier, err := events.NewRedis(cfg.EventsRedisURL, cfg.EventsChannel)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := notifier.Ping(pingCtx); err != nil {
		log.Warn("events redis is unreachable", "channel", notifier.Channel(), "error", err)
	}
	return notifier, nil
}

// Close はスケジューラを止め、実行中のジョブを取り消して終了を待ちます。
func (s *services) Close(ctx context.Context) error {
	return errors.Join(s.sweeper.Shutdown(), s.jobs.Shutdown(ctx))
}
