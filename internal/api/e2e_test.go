package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/jobs"
	"github.com/yourusername/scrape-forge/internal/storage"
	"github.com/yourusername/scrape-forge/internal/supervisor"
	"github.com/yourusername/scrape-forge/internal/template"
)

const fiveRowWorker = `printf 'title,company\n' > A_raw.csv
for i in 1 2 3 4 5; do
  printf 'Job %s,Acme\n' "$i" >> A_raw.csv
  echo "   -> Captured: Job $i"
done`

func newE2ERouter(t *testing.T) *gin.Engine {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, sh not available: %v", err)
	}

	store, err := storage.NewLocal(filepath.Join(t.TempDir(), "outputs"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	inj := template.NewEmpty(nil)
	if err := inj.Register(template.Template{
		Source:   "A",
		Command:  []string{"sh", "-c", fiveRowWorker},
		Artifact: template.ArtifactSpec{Naming: template.NamingFixed, Name: "A_raw.csv"},
	}); err != nil {
		t.Fatalf("failed to register template: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := jobs.NewManager(jobs.Dependencies{
		Registry:   jobs.NewRegistry(),
		Injector:   inj,
		Runner:     supervisor.New(supervisor.Options{Timeout: 10 * time.Second, WaitDelay: time.Second, Logger: log}),
		Reconciler: artifact.NewReconciler(store),
		Artifacts:  store,
		Logger:     log,
	}, t.TempDir())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return newTestRouter(manager)
}

func TestSubmitStatusDownloadEndToEnd(t *testing.T) {
	router := newE2ERouter(t)

	rec := doJSON(t, router, http.MethodPost, "/submit", map[string]any{
		"sourceKind": "A",
		"parameters": map[string]any{"query": "Go Developer", "locality": "Tokyo"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	id := int64(decode(t, rec)["id"].(float64))

	var job jobs.Job
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/status/%d", id), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("failed to parse job: %v", err)
		}
		if job.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish: %#v", job)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if job.Status != jobs.StatusCompleted {
		t.Fatalf("unexpected final state: %#v", job)
	}
	if job.RecordsReconciled != 5 || job.RecordsObserved != 5 {
		t.Fatalf("unexpected counts: observed=%d reconciled=%d", job.RecordsObserved, job.RecordsReconciled)
	}
	if !strings.HasPrefix(filepath.Base(job.ArtifactPath), fmt.Sprintf("A_%d_", id)) {
		t.Fatalf("unexpected artifact name: %s", job.ArtifactPath)
	}

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/download/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected download status: %d", rec.Code)
	}
	if lines := strings.Count(rec.Body.String(), "\n"); lines != 6 {
		t.Fatalf("expected header plus 5 rows, got %d lines: %q", lines, rec.Body.String())
	}
}
