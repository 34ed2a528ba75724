package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/internal/modules/pipeline/infrastructure/backend"
	"SageLink/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend 一个最小的管线后端：run 两次查询后进入 completed
func stubBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/pipelines/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/run"):
			fmt.Fprint(w, `{"run_id":"run-1","status":"starting"}`)
		default:
			status := job.StatusRunning
			if atomic.AddInt32(&polls, 1) >= 2 {
				status = job.StatusCompleted
			}
			fmt.Fprintf(w, `{"status":%q}`, status)
		}
	})
	mux.HandleFunc("/sources/slack/channels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"message":"Success","data":[{"id":"C1","name":"general","message_count":3,"member_count":2}]}`)
	})
	mux.HandleFunc("/sources/gmail/labels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"message":"Success","data":[{"id":"L1","name":"收件箱"}]}`)
	})
	mux.HandleFunc("/sources/gmail/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":200,"message":"Success","data":[{"id":"m1","from":"a@b.c","subject":%q,"date":"2025-08-01"}]}`, r.URL.Query().Get("label_id"))
	})
	mux.HandleFunc("/sources/notion/pages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"message":"Success","data":[{"id":"p1","title":"Roadmap"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestManagerSlackRunRefreshesChannelView(t *testing.T) {
	srv := stubBackend(t)
	api := backend.NewClient(srv.URL, time.Second, nil)
	m := NewManager(api, NewPoller(time.Millisecond), time.Minute)

	// 运行前视图为空
	assert.Nil(t, m.SlackChannels())

	require.NoError(t, m.Run(context.Background(), job.SourceSlack))
	waitFor(t, func() bool { return !m.Coordinator(job.SourceSlack).Running() })

	channels := m.SlackChannels()
	require.Len(t, channels, 1)
	assert.Equal(t, "general", channels[0].Name)
	require.NotNil(t, m.Coordinator(job.SourceSlack).LastRun())
}

func TestManagerGmailRequiresLabelBeforeAnyRequest(t *testing.T) {
	// 后端地址故意不可达：校验失败时不应发出任何请求
	api := backend.NewClient("http://127.0.0.1:0", time.Second, nil)
	m := NewManager(api, NewPoller(time.Millisecond), time.Minute)

	err := m.Run(context.Background(), job.SourceGmail)
	require.Error(t, err)

	var codeErr *xerr.CodeError
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, xerr.BadRequest, codeErr.Code)
	assert.False(t, m.Coordinator(job.SourceGmail).Running())
}

func TestManagerGmailRunUsesSelectedLabel(t *testing.T) {
	srv := stubBackend(t)
	api := backend.NewClient(srv.URL, time.Second, nil)
	m := NewManager(api, NewPoller(time.Millisecond), time.Minute)

	m.SetGmailLabel("L1")
	require.NoError(t, m.Run(context.Background(), job.SourceGmail))
	waitFor(t, func() bool { return !m.Coordinator(job.SourceGmail).Running() })

	labels := m.GmailLabels()
	require.Len(t, labels, 1)
	assert.Equal(t, "收件箱", labels[0].Name)
	msgs := m.GmailMessages()
	require.Len(t, msgs, 1)
	// 刷新请求带上了本轮锁定的标签
	assert.Equal(t, "L1", msgs[0].Subject)
}

func TestManagerRejectsUnknownSource(t *testing.T) {
	api := backend.NewClient("http://127.0.0.1:0", time.Second, nil)
	m := NewManager(api, NewPoller(time.Millisecond), time.Minute)

	err := m.Run(context.Background(), "jira")
	require.Error(t, err)
	assert.ElementsMatch(t, []string{job.SourceSlack, job.SourceGmail, job.SourceNotion}, m.Sources())
}
