// Package events はジョブの状態遷移を外部に通知します。
package events

import (
	"context"
	"time"
)

// 通知種別
const (
	TypeCreated   = "job.created"
	TypeCompleted = "job.completed"
	TypeFailed    = "job.failed"
)

// Message は1回分の通知内容です。Job にはジョブのスナップショットを入れます。
type Message struct {
	Type   string    `json:"type"`
	JobID  int64     `json:"jobId"`
	Status string    `json:"status"`
	Job    any       `json:"job,omitempty"`
	At     time.Time `json:"at"`
}

// Notifier はジョブイベントの送信先です。
type Notifier interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Noop は何もしない Notifier です。
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }

func (Noop) Close() error { return nil }
