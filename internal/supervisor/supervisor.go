// Package supervisor はワーカープロセスを起動し、標準出力を1行ずつ分類しながら
// 終了またはタイムアウトまで監視します。再試行は行いません。
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/yourusername/scrape-forge/internal/progress"
)

const (
	DefaultTimeout     = 900 * time.Second
	DefaultWaitDelay   = 5 * time.Second
	DefaultStderrLimit = 64 << 10

	maxLineBytes = 1 << 20
)

var (
	// ErrTimeout はワーカーが制限時間を超えた場合のキャンセル原因です。
	ErrTimeout = errors.New("worker timed out")
	// ErrCancelled は呼び出し側がジョブを取り消した場合のキャンセル原因です。
	ErrCancelled = errors.New("job cancelled")
	// ErrLaunchFailure はワーカーを起動できなかった場合に返されます。
	ErrLaunchFailure = errors.New("worker launch failure")
)

// State はワーカーの最終状態です。
type State string

const (
	StateExited    State = "exited"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Spec は起動するワーカーの定義です。
type Spec struct {
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Outcome はワーカー1回分の実行結果です。
type Outcome struct {
	State     State
	ExitCode  int
	Stderr    string
	StartedAt time.Time
	StoppedAt time.Time
	Lines     int
}

// Success は正常終了（終了コード0）かどうかを返します。
func (o Outcome) Success() bool {
	return o.State == StateExited && o.ExitCode == 0
}

// EventFunc は分類できた行ごとに呼び出されます。
type EventFunc func(ctx context.Context, ev progress.Event)

// Options は Supervisor の設定です。
type Options struct {
	Timeout     time.Duration
	WaitDelay   time.Duration
	StderrLimit int
	Classifier  *progress.Classifier
	Logger      *slog.Logger
}

// Supervisor はワーカープロセスを監視します。並行に複数の Run を呼び出せます。
type Supervisor struct {
	timeout     time.Duration
	waitDelay   time.Duration
	stderrLimit int
	classifier  *progress.Classifier
	logger      *slog.Logger
}

// New は Supervisor を作成します。
func New(opts Options) *Supervisor {
	s := &Supervisor{
		timeout:     opts.Timeout,
		waitDelay:   opts.WaitDelay,
		stderrLimit: opts.StderrLimit,
		classifier:  opts.Classifier,
		logger:      opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.waitDelay <= 0 {
		s.waitDelay = DefaultWaitDelay
	}
	if s.stderrLimit <= 0 {
		s.stderrLimit = DefaultStderrLimit
	}
	if s.classifier == nil {
		s.classifier = progress.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Run はワーカーを起動し、終了するまでブロックします。
// 制限時間は起動時点から数え、超過した場合はプロセスグループごと kill してから戻ります。
// ctx が ErrCancelled を原因としてキャンセルされた場合は StateCancelled を返します。
func (s *Supervisor) Run(ctx context.Context, spec Spec, onEvent EventFunc) (Outcome, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return Outcome{}, fmt.Errorf("%w: empty command", ErrLaunchFailure)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(append(os.Environ(), spec.Env...), "PYTHONUNBUFFERED=1")
	cmd.WaitDelay = s.waitDelay
	setProcessGroup(cmd)

	stderr := newTailBuffer(s.stderrLimit)
	cmd.Stderr = stderr
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	startedAt := time.Now().UTC()
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return Outcome{StartedAt: startedAt, StoppedAt: time.Now().UTC()}, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	s.logger.DebugContext(ctx, "worker started", "pid", cmd.Process.Pid, "argv", spec.Argv, "timeout", timeout.String())

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		// 標準出力の読み取りはプロセス終了後の EOF でのみ終わる
		_ = pw.Close()
		waitErr <- err
	}()

	var (
		lines    int
		overtime bool
	)
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		if overtime {
			continue
		}
		line := scanner.Text()
		lines++
		s.logger.DebugContext(ctx, "worker output", "line", line)
		if ev, ok := s.classifier.Classify(line); ok && onEvent != nil {
			onEvent(ctx, ev)
		}
		if time.Since(startedAt) >= timeout {
			overtime = true
			cancel()
		}
	}
	if err := scanner.Err(); err != nil {
		// 長すぎる行などで読み取りを中断した場合もパイプを空にしてプロセス終了を待つ
		s.logger.WarnContext(ctx, "worker stdout read failed", "error", err)
		_, _ = io.Copy(io.Discard, pr)
	}

	err := <-waitErr
	outcome := Outcome{
		ExitCode:  exitCode(cmd, err),
		Stderr:    stderr.String(),
		StartedAt: startedAt,
		StoppedAt: time.Now().UTC(),
		Lines:     lines,
	}

	cause := context.Cause(runCtx)
	switch {
	case err == nil:
		outcome.State = StateExited
	case overtime || errors.Is(cause, ErrTimeout):
		outcome.State = StateTimedOut
	case ctx.Err() != nil:
		outcome.State = StateCancelled
	default:
		outcome.State = StateExited
	}

	s.logger.DebugContext(ctx, "worker stopped",
		"state", string(outcome.State),
		"exit_code", outcome.ExitCode,
		"lines", outcome.Lines,
		"elapsed", outcome.StoppedAt.Sub(startedAt).String(),
	)
	return outcome, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
