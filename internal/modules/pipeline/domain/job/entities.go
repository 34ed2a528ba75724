package job

import (
	"time"
)

// 数据源标签
const (
	SourceSlack  = "slack"
	SourceGmail  = "gmail"
	SourceNotion = "notion"
)

// 后端上报的任务状态
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IsTerminal 终态之后不再发生任何状态迁移
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run 一次后端管线执行
type Run struct {
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunStatus 状态查询接口返回的快照
type RunStatus struct {
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FinishTime 结束时间取值顺序：后端 finished_at > started_at > 检测到终态的时刻
func (rs *RunStatus) FinishTime(now time.Time) time.Time {
	if rs.FinishedAt != nil && !rs.FinishedAt.IsZero() {
		return *rs.FinishedAt
	}
	if rs.StartedAt != nil && !rs.StartedAt.IsZero() {
		return *rs.StartedAt
	}
	return now
}
