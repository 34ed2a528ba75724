package stream

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"SageLink/internal/modules/chat/application/service"
	"SageLink/internal/modules/chat/domain/entity"
	"SageLink/pkg/xerr"
	"SageLink/pkg/zlog"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 连接状态机
const (
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateErrored      = "errored"
)

const sendFailureNotice = "connection lost, reconnecting"

// Conn 抽掉 *websocket.Conn 的最小读写面，测试用假连接替换
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// DialFunc 建立一条到后端实时通道的连接
type DialFunc func(url string) (Conn, error)

// DefaultDialer 标准 gorilla 拨号
func DefaultDialer(handshakeTimeout time.Duration) DialFunc {
	return func(url string) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.Dial(url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Link 维护一条逻辑上持久的实时连接：入站帧翻译成 Session Store
// 的变更，出站把一次查询变成一个帧。断线重连为固定间隔退避，
// 连续失败到上限后进入 errored 并保持，直到外部显式 Reconnect。
type Link struct {
	store service.StoreService
	dial  DialFunc
	url   string

	maxAttempts int
	delay       time.Duration

	mu         sync.Mutex
	state      string
	attempts   int
	conn       Conn
	retryTimer *time.Timer
	closed     bool
}

func NewLink(store service.StoreService, dial DialFunc, url string, maxAttempts int, delay time.Duration) *Link {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Link{
		store:       store,
		dial:        dial,
		url:         url,
		maxAttempts: maxAttempts,
		delay:       delay,
		state:       StateConnecting,
	}
}

func (l *Link) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connect 发起一次连接尝试。失败走重连调度，不直接返回错误。
func (l *Link) Connect() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.state == StateConnected && l.conn != nil {
		// 已有活连接，迟到的重连触发直接丢弃
		l.mu.Unlock()
		return
	}
	// 本次尝试接管重连：吊销挂起的定时器，避免恢复后再被它拨一次
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
	l.state = StateConnecting
	l.mu.Unlock()

	conn, err := l.dial(l.url)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		l.mu.Unlock()
		zlog.Warn("streaming link dial failed", zap.Error(err), zap.String("url", l.url))
		l.scheduleReconnect()
		return
	}
	if l.conn != nil {
		// 并发拨号竞态：另一条连接已经握手成功，关掉这条多余的
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.conn = conn
	l.state = StateConnected
	// 握手成功，重置重连计数
	l.attempts = 0
	l.mu.Unlock()

	zlog.Info("streaming link connected", zap.String("url", l.url))
	go l.readPump(conn)
}

// Reconnect 外部显式重连：errored 粘滞状态只能从这里走出来
func (l *Link) Reconnect() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.attempts = 0
	l.mu.Unlock()
	l.Connect()
}

// Send 发送一次查询。前置条件：连接必须处于 connected。
// 断线时不排队：缓冲区写入掉线提示，若还有重连额度立即补一次重连。
func (l *Link) Send(query string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return xerr.New(xerr.BadRequest, "link closed")
	}
	if l.state != StateConnected {
		// connecting 说明已有握手或重连在途，不额外拨号去消耗重连额度
		needRedial := l.state == StateDisconnected && l.attempts < l.maxAttempts
		l.mu.Unlock()
		l.store.SetStreaming(false)
		l.store.SetStreamingText(sendFailureNotice)
		if needRedial {
			l.scheduleImmediateReconnect()
		}
		return xerr.New(xerr.BadRequest, sendFailureNotice)
	}
	conn := l.conn
	sessionID := l.store.CurrentSessionID()
	l.mu.Unlock()

	// 发送前重置缓冲区：清空上一轮残留并点亮 streaming
	l.store.StartStreaming()

	if err := conn.WriteJSON(QueryFrame{Query: query, SessionID: sessionID}); err != nil {
		zlog.Error("streaming link send failed", zap.Error(err))
		l.store.SetStreaming(false)
		l.store.SetStreamingText(sendFailureNotice)
		l.onConnBroken(conn)
		return xerr.ErrServerError
	}
	return nil
}

// Close 显式拆除：取消挂起的重连定时器并关闭传输，之后不再有任何回调
func (l *Link) Close() {
	l.mu.Lock()
	l.closed = true
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
	conn := l.conn
	l.conn = nil
	l.state = StateDisconnected
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (l *Link) readPump(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.onConnBroken(conn)
			return
		}
		l.handleFrame(data)
	}
}

// onConnBroken 连接断开的统一入口：转 disconnected 并调度重连
func (l *Link) onConnBroken(conn Conn) {
	l.mu.Lock()
	if l.closed || l.conn != conn {
		// 拆除中，或者已经换上了新连接
		l.mu.Unlock()
		return
	}
	_ = conn.Close()
	l.conn = nil
	l.state = StateDisconnected
	l.mu.Unlock()
	zlog.Warn("streaming link disconnected")
	l.scheduleReconnect()
}

// scheduleReconnect 固定间隔退避（非指数）；额度耗尽转入 errored
func (l *Link) scheduleReconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if l.attempts >= l.maxAttempts {
		l.state = StateErrored
		zlog.Error("streaming link reconnect attempts exhausted", zap.Int("attempts", l.attempts))
		return
	}
	l.attempts++
	attempt := l.attempts
	l.retryTimer = time.AfterFunc(l.delay, func() {
		zlog.Info("streaming link reconnecting", zap.Int("attempt", attempt))
		l.Connect()
	})
}

func (l *Link) scheduleImmediateReconnect() {
	l.mu.Lock()
	if l.closed || l.attempts >= l.maxAttempts {
		l.mu.Unlock()
		return
	}
	l.attempts++
	l.mu.Unlock()
	go l.Connect()
}

// handleFrame 入站帧 → Session Store 变更。坏帧只记日志，绝不拖垮链路。
func (l *Link) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		zlog.Warn("streaming link malformed frame", zap.Error(err), zap.ByteString("frame", data))
		return
	}

	switch f.Type {
	case FrameToken:
		var token string
		if err := json.Unmarshal(f.Content, &token); err != nil {
			zlog.Warn("streaming link bad token frame", zap.Error(err))
			return
		}
		l.store.AppendStreamingToken(token)

	case FrameSources:
		var sources []entity.Source
		if err := json.Unmarshal(f.Content, &sources); err != nil {
			zlog.Warn("streaming link bad sources frame", zap.Error(err))
			return
		}
		l.store.SetStreamingSources(sources)

	case FrameStatus:
		var status string
		if err := json.Unmarshal(f.Content, &status); err != nil {
			zlog.Warn("streaming link bad status frame", zap.Error(err))
			return
		}
		if strings.HasPrefix(status, ReasoningStepPrefix) || strings.HasPrefix(status, ReasoningSummaryPrefix) {
			l.store.AddReasoningStep(status)
			return
		}
		zlog.Debug("streaming link status", zap.String("status", status))

	case FrameDone:
		l.store.FinishStreaming()

	case FrameError:
		var msg string
		if err := json.Unmarshal(f.Content, &msg); err != nil {
			msg = "unknown error"
		}
		// 先把已收到的部分文本落成消息，再把错误标记写进缓冲区
		l.store.SetStreaming(false)
		l.store.FinishStreaming()
		l.store.SetStreamingText("Error: " + msg)

	default:
		zlog.Warn("streaming link unknown frame type", zap.String("type", f.Type))
	}
}
