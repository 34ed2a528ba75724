package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/pkg/xerr"
)

// TokenFunc 返回当前身份的 Bearer Token（可为空串表示未登录）
type TokenFunc func() string

// Client 后端任务控制与数据刷新接口的 HTTP 客户端。
// 管线控制接口（run/status/stop）是裸 JSON 契约；
// 数据读取接口走 code/message/data 统一信封。
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
}

func NewClient(baseURL string, timeout time.Duration, token TokenFunc) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

type runResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status,omitempty"`
}

// envelope 统一响应信封
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SlackChannel 频道及其统计
type SlackChannel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
	MemberCount  int    `json:"member_count"`
}

type GmailLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type GmailMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet,omitempty"`
}

// NotionPage 页面层级的一个节点，ParentID 为空表示根页面
type NotionPage struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parent_id,omitempty"`
}

// StartRun POST /pipelines/{source}/run[?label_id=]
func (c *Client) StartRun(ctx context.Context, source string, labelID string) (string, error) {
	path := fmt.Sprintf("/pipelines/%s/run", source)
	if labelID != "" {
		path += "?label_id=" + url.QueryEscape(labelID)
	}
	body, err := c.do(ctx, http.MethodPost, path)
	if err != nil {
		return "", err
	}
	var resp runResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", xerr.New(xerr.InternalServerError, "bad run response")
	}
	if resp.RunID == "" {
		return "", xerr.New(xerr.InternalServerError, "run response missing run_id")
	}
	return resp.RunID, nil
}

// FetchRunStatus GET /pipelines/{source}/status/{run_id}
func (c *Client) FetchRunStatus(ctx context.Context, source string, runID string) (*job.RunStatus, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/pipelines/%s/status/%s", source, url.PathEscape(runID)))
	if err != nil {
		return nil, err
	}
	var rs job.RunStatus
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, xerr.New(xerr.InternalServerError, "bad status response")
	}
	return &rs, nil
}

// StopRun POST /pipelines/{source}/stop/{run_id}，应答内容忽略
func (c *Client) StopRun(ctx context.Context, source string, runID string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/pipelines/%s/stop/%s", source, url.PathEscape(runID)))
	return err
}

func (c *Client) FetchSlackChannels(ctx context.Context) ([]SlackChannel, error) {
	var out []SlackChannel
	if err := c.getData(ctx, "/sources/slack/channels", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchGmailLabels(ctx context.Context) ([]GmailLabel, error) {
	var out []GmailLabel
	if err := c.getData(ctx, "/sources/gmail/labels", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchGmailMessages(ctx context.Context, labelID string) ([]GmailMessage, error) {
	var out []GmailMessage
	path := "/sources/gmail/messages?label_id=" + url.QueryEscape(labelID)
	if err := c.getData(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchNotionPages(ctx context.Context) ([]NotionPage, error) {
	var out []NotionPage
	if err := c.getData(ctx, "/sources/notion/pages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getData 解开统一信封并把 data 解到 out
func (c *Client) getData(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return xerr.New(xerr.InternalServerError, "bad response envelope")
	}
	if env.Code != xerr.OK {
		return xerr.New(env.Code, env.Message)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return xerr.New(xerr.InternalServerError, "bad response data")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = resp.Status
		}
		return nil, xerr.New(resp.StatusCode, msg)
	}
	return body, nil
}
