package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/scrape-forge/internal/jobs"
	"github.com/yourusername/scrape-forge/internal/template"
)

// respondWithError はドメインのエラーを HTTP ステータスと {code, message} に変換します。
// /submit 系は旧 Web UI 互換のため error キーも含めます。
func respondWithError(c *gin.Context, err error) {
	status, code, message := classify(err)
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
		"error":   message,
	})
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, template.ErrTemplateNotFound):
		return http.StatusBadRequest, "UNKNOWN_SOURCE", err.Error()
	case errors.Is(err, template.ErrInvalidParameters):
		return http.StatusBadRequest, "INVALID_PARAMETERS", err.Error()
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND", "指定されたジョブは存在しません。"
	case errors.Is(err, jobs.ErrJobNotRunning):
		return http.StatusConflict, "JOB_NOT_RUNNING", "ジョブは実行中ではありません。"
	case errors.Is(err, jobs.ErrShuttingDown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN", "サーバーが停止処理中です。"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "リクエストがキャンセルされました。"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。"
	}
}
