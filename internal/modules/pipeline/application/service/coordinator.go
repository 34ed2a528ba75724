package service

import (
	"context"
	"sync"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/pkg/xerr"
	"SageLink/pkg/zlog"

	"go.uber.org/zap"
)

// SourceSpec 一条管线的能力集合：三个数据源各提供一份配置值，
// 而不是各写一份协调器。
type SourceSpec struct {
	Source string

	// Validate 启动前置校验，失败则不发任何网络请求
	Validate func() error
	// Start 发起一次后端管线运行，返回 run id
	Start func(ctx context.Context) (string, error)
	// FetchStatus 查询运行状态
	FetchStatus FetchStatusFunc
	// Stop 尽力而为的停止请求，结果不影响本地状态
	Stop func(ctx context.Context, runID string) error
	// Refresh 终态后重新拉取该数据源的物化视图
	Refresh func(ctx context.Context) error
}

// Coordinator 把一条管线的启停、轮询和数据刷新拼在一起，
// 并向界面层暴露运行状态。running 标志只由轮询循环落下，
// Stop 调用本身不会改它。
type Coordinator struct {
	spec   SourceSpec
	poller *Poller

	mu      sync.Mutex
	running bool
	status  string
	runID   string
	lastRun *time.Time
}

func NewCoordinator(spec SourceSpec, poller *Poller) *Coordinator {
	return &Coordinator{spec: spec, poller: poller}
}

func (c *Coordinator) Source() string {
	return c.spec.Source
}

// Run 启动一次管线运行并挂上轮询循环。
// 同源并发启动由调用方（界面层）负责避免，这里只跟踪最近一次 run id。
func (c *Coordinator) Run(ctx context.Context) error {
	if c.spec.Validate != nil {
		if err := c.spec.Validate(); err != nil {
			return err
		}
	}

	runID, err := c.spec.Start(ctx)
	if err != nil {
		zlog.Error("pipeline start failed", zap.Error(err), zap.String("source", c.spec.Source))
		c.mu.Lock()
		c.status = "failed to start"
		c.mu.Unlock()
		return xerr.New(xerr.InternalServerError, "pipeline start failed")
	}

	c.mu.Lock()
	c.runID = runID
	c.running = true
	c.status = "starting"
	c.mu.Unlock()

	zlog.Info("pipeline run started", zap.String("source", c.spec.Source), zap.String("run_id", runID))

	go c.poller.Poll(ctx, runID, c.spec.FetchStatus, PollHooks{
		OnStatus: func(status string) {
			c.mu.Lock()
			c.status = status
			c.mu.Unlock()
		},
		OnTerminal: func(rs *job.RunStatus, finishedAt time.Time) {
			c.mu.Lock()
			c.running = false
			c.lastRun = &finishedAt
			c.mu.Unlock()
			// 刷新物化视图后轮询循环才算收尾
			if c.spec.Refresh != nil {
				if err := c.spec.Refresh(ctx); err != nil {
					zlog.Warn("pipeline refresh failed", zap.Error(err), zap.String("source", c.spec.Source))
				}
			}
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.running = false
			c.status = "failed"
			c.mu.Unlock()
		},
	})
	return nil
}

// Stop 对当前跟踪的 run id 发停止请求，不等待也不校验效果。
// 客户端的轮询循环会一直跑到后端上报终态（包括 cancelled）为止。
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	runID := c.runID
	c.mu.Unlock()
	if runID == "" || c.spec.Stop == nil {
		return
	}
	if err := c.spec.Stop(ctx, runID); err != nil {
		zlog.Warn("pipeline stop request failed", zap.Error(err), zap.String("source", c.spec.Source), zap.String("run_id", runID))
	}
}

func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) LastRun() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun == nil {
		return nil
	}
	t := *c.lastRun
	return &t
}

// SetLastRun 从持久化快照恢复上次完成时间
func (c *Coordinator) SetLastRun(t *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t == nil {
		c.lastRun = nil
		return
	}
	v := *t
	c.lastRun = &v
}
