package jobs

import (
	"time"

	"github.com/yourusername/scrape-forge/internal/template"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "error"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Parameters はジョブの検索条件です。
type Parameters = template.Parameters

// Job はジョブの現在状態を表します。Registry から返るのは常にコピーです。
type Job struct {
	ID                int64      `json:"id"`
	Status            Status     `json:"status"`
	SourceKind        string     `json:"sourceKind"`
	Parameters        Parameters `json:"parameters"`
	Progress          string     `json:"progress"`
	RecordsObserved   int        `json:"recordsObserved"`
	RecordsReconciled int        `json:"recordsReconciled"`
	CreatedAt         time.Time  `json:"createdAt"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
	ArtifactPath      string     `json:"artifactPath,omitempty"`
	ErrorDetail       string     `json:"errorDetail,omitempty"`
	ErrorCode         ErrorCode  `json:"errorCode,omitempty"`
	Note              string     `json:"note,omitempty"`
}

func (j *Job) clone() Job {
	out := *j
	if j.Parameters.Extra != nil {
		out.Parameters.Extra = make(map[string]string, len(j.Parameters.Extra))
		for k, v := range j.Parameters.Extra {
			out.Parameters.Extra[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
