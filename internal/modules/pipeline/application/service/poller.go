package service

import (
	"context"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/pkg/zlog"

	"go.uber.org/zap"
)

// FetchStatusFunc 查询一次任务状态
type FetchStatusFunc func(ctx context.Context, runID string) (*job.RunStatus, error)

// PollHooks 轮询回调。OnTerminal 只在到达终态时调用一次；
// 取状态失败视为本次轮询的致命错误，走 OnError 且不重试。
type PollHooks struct {
	OnStatus   func(status string)
	OnTerminal func(rs *job.RunStatus, finishedAt time.Time)
	OnError    func(err error)
}

// Poller 通用任务轮询原语：按固定间隔查状态直到终态。
// 每个活跃任务一个独立的轮询循环；同源去重是调用方的责任。
type Poller struct {
	Interval time.Duration
}

func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{Interval: interval}
}

// Poll 阻塞运行到终态或取状态失败。通常由调用方 go 出去。
func (p *Poller) Poll(ctx context.Context, runID string, fetch FetchStatusFunc, hooks PollHooks) {
	for {
		rs, err := fetch(ctx, runID)
		if err != nil {
			// 瞬态失败也按致命处理：中止本任务的轮询，不自动重试
			zlog.Warn("job poll fetch failed", zap.Error(err), zap.String("run_id", runID))
			if hooks.OnError != nil {
				hooks.OnError(err)
			}
			return
		}

		if hooks.OnStatus != nil {
			hooks.OnStatus(rs.Status)
		}

		if job.IsTerminal(rs.Status) {
			finishedAt := rs.FinishTime(time.Now())
			zlog.Info("job reached terminal status",
				zap.String("run_id", runID),
				zap.String("status", rs.Status),
				zap.Time("finished_at", finishedAt))
			if hooks.OnTerminal != nil {
				hooks.OnTerminal(rs, finishedAt)
			}
			return
		}

		select {
		case <-ctx.Done():
			zlog.Info("job poll cancelled by context", zap.String("run_id", runID))
			if hooks.OnError != nil {
				hooks.OnError(ctx.Err())
			}
			return
		case <-time.After(p.Interval):
		}
	}
}
