package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRunSendsLabelAndBearerToken(t *testing.T) {
	var gotPath, gotLabel, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLabel = r.URL.Query().Get("label_id")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"run_id":"run-42","status":"starting"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, func() string { return "tok-1" })
	runID, err := c.StartRun(context.Background(), job.SourceGmail, "Label_7")
	require.NoError(t, err)
	assert.Equal(t, "run-42", runID)
	assert.Equal(t, "/pipelines/gmail/run", gotPath)
	assert.Equal(t, "Label_7", gotLabel)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestStartRunRejectsMissingRunID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"starting"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.StartRun(context.Background(), job.SourceSlack, "")
	require.Error(t, err)
}

func TestFetchRunStatusDecodesTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pipelines/slack/status/run-1", r.URL.Path)
		w.Write([]byte(`{"status":"completed","started_at":"2025-08-01T09:00:00Z","finished_at":"2025-08-01T09:05:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	rs, err := c.FetchRunStatus(context.Background(), job.SourceSlack, "run-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, rs.Status)
	require.NotNil(t, rs.FinishedAt)
	assert.True(t, rs.FinishedAt.Equal(time.Date(2025, 8, 1, 9, 5, 0, 0, time.UTC)))
}

func TestStopRunIgnoresBody(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Write([]byte(`{"acknowledged":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	require.NoError(t, c.StopRun(context.Background(), job.SourceNotion, "run-9"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/pipelines/notion/stop/run-9", gotPath)
}

func TestFetchSlackChannelsUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sources/slack/channels", r.URL.Path)
		w.Write([]byte(`{"code":200,"message":"Success","data":[{"id":"C1","name":"general","message_count":120,"member_count":8}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	channels, err := c.FetchSlackChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "general", channels[0].Name)
	assert.Equal(t, 120, channels[0].MessageCount)
}

func TestEnvelopeErrorCodeBecomesCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":401,"message":"token 已过期"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.FetchNotionPages(context.Background())
	require.Error(t, err)

	var codeErr *xerr.CodeError
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, xerr.Unauthorized, codeErr.Code)
	assert.Equal(t, "token 已过期", codeErr.Message)
}

func TestNon2xxStatusBecomesCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "label_id is required", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.StartRun(context.Background(), job.SourceGmail, "")
	require.Error(t, err)

	var codeErr *xerr.CodeError
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, xerr.BadRequest, codeErr.Code)
	assert.Equal(t, "label_id is required", codeErr.Message)
}

func TestFetchGmailMessagesEscapesLabel(t *testing.T) {
	var gotLabel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLabel = r.URL.Query().Get("label_id")
		w.Write([]byte(`{"code":200,"message":"Success","data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.FetchGmailMessages(context.Background(), "Label 1/收件箱")
	require.NoError(t, err)
	assert.Equal(t, "Label 1/收件箱", gotLabel)
}
