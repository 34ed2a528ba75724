package entity

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 证据来源类型（可扩展）
const (
	SourceOriginSlack  = "slack"
	SourceOriginGmail  = "gmail"
	SourceOriginNotion = "notion"
)

// Source 助手回答附带的检索证据，附加到消息后不可变
type Source struct {
	Origin      string            `json:"origin"`                 // slack/gmail/notion
	Score       *float64          `json:"score,omitempty"`        // 召回相关度
	RerankScore *float64          `json:"rerank_score,omitempty"` // 重排序得分
	Excerpt     string            `json:"excerpt"`
	Metadata    map[string]string `json:"metadata,omitempty"` // chat 来源：channel/user/ts；mail 来源：from/subject/date
}

// Message 会话消息，追加后不可变（流式缓冲区不算消息）
type Message struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Sources        []Source  `json:"sources,omitempty"`
	ReasoningSteps []string  `json:"reasoning_steps,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StreamBuffer 全局唯一的流式缓冲区：同一时刻至多一个流在进行
type StreamBuffer struct {
	Text           string   `json:"text"`
	Sources        []Source `json:"sources,omitempty"`
	ReasoningSteps []string `json:"reasoning_steps,omitempty"`
	Streaming      bool     `json:"streaming"`
}
