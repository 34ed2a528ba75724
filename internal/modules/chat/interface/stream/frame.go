package stream

import "encoding/json"

// 入站帧类型
const (
	FrameToken   = "token"
	FrameSources = "sources"
	FrameStatus  = "status"
	FrameDone    = "done"
	FrameError   = "error"
)

// status 帧按文本前缀识别推理步骤。前缀嗅探沿用现有线上协议，
// 协议若引入结构化的 reasoning_step 帧类型应替换掉这里。
const (
	ReasoningStepPrefix    = "Step "
	ReasoningSummaryPrefix = "Reasoning Summary"
)

// Frame 实时通道上的一条入站消息
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// QueryFrame 出站查询帧，带上会话 ID 便于后端按会话关联
type QueryFrame struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}
