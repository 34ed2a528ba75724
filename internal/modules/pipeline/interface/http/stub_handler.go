package http

import (
	"net/http"
	"sync"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/internal/modules/pipeline/infrastructure/backend"
	"SageLink/pkg/back"
	"SageLink/pkg/util"
	"SageLink/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// stubRun 内存中的一次模拟运行：每次被查询状态就往前推进一步
type stubRun struct {
	source    string
	polls     int
	stopped   bool
	startedAt time.Time
}

// StubPipelineHandler 本地联调用的管线控制端点。
// run/status/stop 走裸 JSON 契约，数据读取走统一信封。
type StubPipelineHandler struct {
	mu   sync.Mutex
	runs map[string]*stubRun
}

func NewStubPipelineHandler() *StubPipelineHandler {
	return &StubPipelineHandler{runs: make(map[string]*stubRun)}
}

func validSource(s string) bool {
	return s == job.SourceSlack || s == job.SourceGmail || s == job.SourceNotion
}

func (h *StubPipelineHandler) Run(c *gin.Context) {
	source := c.Param("source")
	if !validSource(source) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
		return
	}
	if source == job.SourceGmail && c.Query("label_id") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "label_id is required"})
		return
	}

	runID := util.GenerateShortUUID()
	h.mu.Lock()
	h.runs[runID] = &stubRun{source: source, startedAt: time.Now()}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": job.StatusStarting})
}

func (h *StubPipelineHandler) Status(c *gin.Context) {
	runID := c.Param("run_id")
	h.mu.Lock()
	run, ok := h.runs[runID]
	if ok {
		run.polls++
	}
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run_id"})
		return
	}

	status := job.StatusStarting
	var finishedAt *time.Time
	switch {
	case run.stopped:
		status = job.StatusCancelled
		now := time.Now()
		finishedAt = &now
	case run.polls >= 3:
		status = job.StatusCompleted
		now := time.Now()
		finishedAt = &now
	case run.polls >= 2:
		status = job.StatusRunning
	}

	c.JSON(http.StatusOK, job.RunStatus{Status: status, StartedAt: &run.startedAt, FinishedAt: finishedAt})
}

func (h *StubPipelineHandler) Stop(c *gin.Context) {
	runID := c.Param("run_id")
	h.mu.Lock()
	if run, ok := h.runs[runID]; ok {
		run.stopped = true
	}
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (h *StubPipelineHandler) SlackChannels(c *gin.Context) {
	back.Result(c, []backend.SlackChannel{
		{ID: "C01AB", Name: "eng-infra", MessageCount: 1824, MemberCount: 23},
		{ID: "C02CD", Name: "general", MessageCount: 9631, MemberCount: 87},
	}, nil)
}

func (h *StubPipelineHandler) GmailLabels(c *gin.Context) {
	back.Result(c, []backend.GmailLabel{
		{ID: "Label_1", Name: "工作"},
		{ID: "Label_2", Name: "账单"},
	}, nil)
}

func (h *StubPipelineHandler) GmailMessages(c *gin.Context) {
	if c.Query("label_id") == "" {
		back.Result(c, nil, xerr.New(xerr.BadRequest, "label_id is required"))
		return
	}
	back.Result(c, []backend.GmailMessage{
		{ID: "m1", From: "ops@example.com", Subject: "容量规划 Q2", Date: "2025-08-12", Snippet: "附件里是上季度的容量规划"},
	}, nil)
}

func (h *StubPipelineHandler) NotionPages(c *gin.Context) {
	back.Result(c, []backend.NotionPage{
		{ID: "p1", Title: "团队主页"},
		{ID: "p2", Title: "发布流程", ParentID: "p1"},
		{ID: "p3", Title: "值班手册", ParentID: "p1"},
	}, nil)
}
