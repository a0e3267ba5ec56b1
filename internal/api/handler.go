// Package api はジョブ投入・状態取得・成果物ダウンロードの HTTP ハンドラーを提供します。
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/scrape-forge/internal/jobs"
	"github.com/yourusername/scrape-forge/internal/template"
)

// JobService はハンドラーが利用するジョブ操作です。
type JobService interface {
	Submit(ctx context.Context, sourceKind string, params jobs.Parameters) (jobs.Job, error)
	Get(id int64) (jobs.Job, error)
	List() []jobs.Job
	Cancel(id int64) error
	OpenArtifact(id int64) (*os.File, os.FileInfo, jobs.Job, error)
}

// Handler は HTTP ハンドラーの集合です。
type Handler struct {
	jobs    JobService
	version string
}

// NewHandler は Handler を作成します。
func NewHandler(svc JobService, version string) *Handler {
	return &Handler{jobs: svc, version: version}
}

// submitRequest は /submit と /api/scrape のリクエストボディです。
// 旧 Web UI の platform / job_keywords 形式も受け付けます。
type submitRequest struct {
	SourceKind string           `json:"sourceKind"`
	Parameters *jobs.Parameters `json:"parameters"`

	Platform    string `json:"platform"`
	JobKeywords string `json:"job_keywords"`
	JobLocation string `json:"job_location"`
	MaxPages    int    `json:"max_pages"`
	Headless    bool   `json:"headless"`
}

func (r submitRequest) kind() string {
	if r.SourceKind != "" {
		return strings.TrimSpace(r.SourceKind)
	}
	return strings.TrimSpace(r.Platform)
}

func (r submitRequest) params() jobs.Parameters {
	if r.Parameters != nil {
		return *r.Parameters
	}
	p := jobs.Parameters{
		Query:     r.JobKeywords,
		Locality:  r.JobLocation,
		PageLimit: r.MaxPages,
	}
	if r.Headless {
		p.VisibilityMode = template.VisibilityHeadless
	}
	return p
}

// Submit はジョブを投入します。
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "リクエストボディを JSON で送ってください。",
			"code":  "INVALID_INPUT",
		})
		return
	}
	if req.kind() == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "sourceKind を指定してください。",
			"code":  "INVALID_INPUT",
		})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.kind(), req.params())
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     job.ID,
		"status": "started",
	})
}

// Status はジョブのスナップショットを返します。
func (h *Handler) Status(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	job, err := h.jobs.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// List は全ジョブを新しい順に返します。
func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.List()})
}

// Cancel は実行中のジョブを取り消します。
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		respondWithError(c, jobs.ErrJobNotFound)
		return
	}
	if err := h.jobs.Cancel(id); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "cancelling",
	})
}

// Download は成果物をストリーミングで返します。
func (h *Handler) Download(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	file, info, job, err := h.jobs.OpenArtifact(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) || errors.Is(err, jobs.ErrArtifactUnavailable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		respondWithError(c, err)
		return
	}
	defer file.Close()

	name := filepath.Base(job.ArtifactPath)
	contentType := detectContentType(file, name)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, url.PathEscape(name)))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", strconv.FormatInt(job.ID, 10))
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}

// Health はヘルスチェック用のハンドラーです。
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "scrape-forge-api",
		"version": h.version,
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// detectContentType は先頭バイトから Content-Type を判定し、読み取り位置を先頭に戻します。
func detectContentType(file io.ReadSeeker, name string) string {
	const fallback = "application/octet-stream"
	mtype, err := mimetype.DetectReader(file)
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return fallback
	}
	if err != nil {
		return fallback
	}
	if strings.EqualFold(filepath.Ext(name), ".csv") && mtype.Is("text/plain") {
		return "text/csv; charset=utf-8"
	}
	return mtype.String()
}
