package jobs

import (
	"errors"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/supervisor"
)

var (
	// ErrJobNotFound は指定 ID のジョブが存在しない場合に返されます。
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotRunning は実行中でないジョブを取り消そうとした場合に返されます。
	ErrJobNotRunning = errors.New("job is not running")
	// ErrTerminalState は終了済みジョブの状態を変更しようとした場合に返されます。
	ErrTerminalState = errors.New("job already finished")
	// ErrArtifactUnavailable はダウンロード可能な成果物が無い場合に返されます。
	ErrArtifactUnavailable = errors.New("artifact unavailable")
	// ErrShuttingDown は停止処理中に投入された場合に返されます。
	ErrShuttingDown = errors.New("manager is shutting down")
)

// ErrorCode はジョブ失敗の分類コードです。
type ErrorCode string

const (
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeCancelled           ErrorCode = "CANCELLED"
	CodeWorkerExitedNonZero ErrorCode = "WORKER_EXITED_NONZERO"
	CodeLaunchFailure       ErrorCode = "LAUNCH_FAILURE"
	CodeArtifactReadFailure ErrorCode = "ARTIFACT_READ_FAILURE"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// CodeOf は実行時エラーを分類コードに変換します。
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, supervisor.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, supervisor.ErrCancelled):
		return CodeCancelled
	case errors.Is(err, supervisor.ErrLaunchFailure):
		return CodeLaunchFailure
	case errors.Is(err, artifact.ErrArtifactRead):
		return CodeArtifactReadFailure
	default:
		return CodeInternal
	}
}
