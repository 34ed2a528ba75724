package service

import (
	"context"
	"sync"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/internal/modules/pipeline/infrastructure/backend"
	"SageLink/pkg/xerr"

	"github.com/patrickmn/go-cache"
)

// 物化视图的缓存键
const (
	viewSlackChannels = "slack:channels"
	viewGmailLabels   = "gmail:labels"
	viewGmailMessages = "gmail:messages"
	viewNotionPages   = "notion:pages"
)

// Manager 组装三条管线的协调器，持有刷新后的物化视图缓存，
// 并代界面层记录 Gmail 的标签选择。
type Manager struct {
	api    *backend.Client
	views  *cache.Cache
	coords map[string]*Coordinator

	mu            sync.Mutex
	gmailLabelID  string // 界面选中的标签
	gmailRunLabel string // 本轮运行锁定的标签
}

func NewManager(api *backend.Client, poller *Poller, viewTTL time.Duration) *Manager {
	if viewTTL <= 0 {
		viewTTL = 10 * time.Minute
	}
	m := &Manager{
		api:    api,
		views:  cache.New(viewTTL, 2*viewTTL),
		coords: make(map[string]*Coordinator),
	}

	m.coords[job.SourceSlack] = NewCoordinator(SourceSpec{
		Source: job.SourceSlack,
		Start: func(ctx context.Context) (string, error) {
			return api.StartRun(ctx, job.SourceSlack, "")
		},
		FetchStatus: func(ctx context.Context, runID string) (*job.RunStatus, error) {
			return api.FetchRunStatus(ctx, job.SourceSlack, runID)
		},
		Stop: func(ctx context.Context, runID string) error {
			return api.StopRun(ctx, job.SourceSlack, runID)
		},
		Refresh: m.refreshSlack,
	}, poller)

	m.coords[job.SourceGmail] = NewCoordinator(SourceSpec{
		Source: job.SourceGmail,
		// Gmail 必须先选择标签，校验不过不发网络请求
		Validate: func() error {
			if m.GmailLabel() == "" {
				return xerr.New(xerr.BadRequest, "请先选择 Gmail 标签")
			}
			return nil
		},
		Start: func(ctx context.Context) (string, error) {
			label := m.GmailLabel()
			runID, err := api.StartRun(ctx, job.SourceGmail, label)
			if err != nil {
				return "", err
			}
			// 刷新用本轮锁定的标签，运行途中换选择不影响
			m.mu.Lock()
			m.gmailRunLabel = label
			m.mu.Unlock()
			return runID, nil
		},
		FetchStatus: func(ctx context.Context, runID string) (*job.RunStatus, error) {
			return api.FetchRunStatus(ctx, job.SourceGmail, runID)
		},
		Stop: func(ctx context.Context, runID string) error {
			return api.StopRun(ctx, job.SourceGmail, runID)
		},
		Refresh: m.refreshGmail,
	}, poller)

	m.coords[job.SourceNotion] = NewCoordinator(SourceSpec{
		Source: job.SourceNotion,
		Start: func(ctx context.Context) (string, error) {
			return api.StartRun(ctx, job.SourceNotion, "")
		},
		FetchStatus: func(ctx context.Context, runID string) (*job.RunStatus, error) {
			return api.FetchRunStatus(ctx, job.SourceNotion, runID)
		},
		Stop: func(ctx context.Context, runID string) error {
			return api.StopRun(ctx, job.SourceNotion, runID)
		},
		Refresh: m.refreshNotion,
	}, poller)

	return m
}

func (m *Manager) Coordinator(source string) *Coordinator {
	return m.coords[source]
}

func (m *Manager) Sources() []string {
	return []string{job.SourceSlack, job.SourceGmail, job.SourceNotion}
}

func (m *Manager) Run(ctx context.Context, source string) error {
	c := m.coords[source]
	if c == nil {
		return xerr.New(xerr.BadRequest, "unknown pipeline source: "+source)
	}
	return c.Run(ctx)
}

func (m *Manager) Stop(ctx context.Context, source string) {
	if c := m.coords[source]; c != nil {
		c.Stop(ctx)
	}
}

func (m *Manager) SetGmailLabel(labelID string) {
	m.mu.Lock()
	m.gmailLabelID = labelID
	m.mu.Unlock()
}

func (m *Manager) GmailLabel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gmailLabelID
}

func (m *Manager) refreshSlack(ctx context.Context) error {
	channels, err := m.api.FetchSlackChannels(ctx)
	if err != nil {
		return err
	}
	m.views.Set(viewSlackChannels, channels, cache.DefaultExpiration)
	return nil
}

func (m *Manager) refreshGmail(ctx context.Context) error {
	labels, err := m.api.FetchGmailLabels(ctx)
	if err != nil {
		return err
	}
	m.views.Set(viewGmailLabels, labels, cache.DefaultExpiration)

	m.mu.Lock()
	label := m.gmailRunLabel
	m.mu.Unlock()
	msgs, err := m.api.FetchGmailMessages(ctx, label)
	if err != nil {
		return err
	}
	m.views.Set(viewGmailMessages, msgs, cache.DefaultExpiration)
	return nil
}

func (m *Manager) refreshNotion(ctx context.Context) error {
	pages, err := m.api.FetchNotionPages(ctx)
	if err != nil {
		return err
	}
	m.views.Set(viewNotionPages, pages, cache.DefaultExpiration)
	return nil
}

func (m *Manager) SlackChannels() []backend.SlackChannel {
	if v, ok := m.views.Get(viewSlackChannels); ok {
		return v.([]backend.SlackChannel)
	}
	return nil
}

func (m *Manager) GmailLabels() []backend.GmailLabel {
	if v, ok := m.views.Get(viewGmailLabels); ok {
		return v.([]backend.GmailLabel)
	}
	return nil
}

func (m *Manager) GmailMessages() []backend.GmailMessage {
	if v, ok := m.views.Get(viewGmailMessages); ok {
		return v.([]backend.GmailMessage)
	}
	return nil
}

func (m *Manager) NotionPages() []backend.NotionPage {
	if v, ok := m.views.Get(viewNotionPages); ok {
		return v.([]backend.NotionPage)
	}
	return nil
}
