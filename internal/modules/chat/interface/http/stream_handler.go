package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"SageLink/internal/modules/chat/domain/entity"
	"SageLink/internal/modules/chat/interface/stream"
	"SageLink/pkg/util/myjwt"
	"SageLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// outFrame 出站帧（服务端视角）
type outFrame struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
}

// StreamHandler 本地联调用的流式应答端点：收到查询后回放一段
// 固定的 status/sources/token/done 序列，让客户端无真实后端也能跑通。
type StreamHandler struct{}

func NewStreamHandler() *StreamHandler {
	return &StreamHandler{}
}

func (h *StreamHandler) Connect(c *gin.Context) {
	// 升级前校验 URL 参数里的 token（WebSocket 握手带不了自定义 Header）
	if token := c.Query("token"); token != "" {
		if _, err := myjwt.ParseToken(token); err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	zlog.Info("stub stream connected", zap.String("remote_addr", c.Request.RemoteAddr))

	for {
		var q stream.QueryFrame
		if err := conn.ReadJSON(&q); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Warn("stub stream read error", zap.Error(err))
			}
			return
		}
		zlog.Info("stub stream query", zap.String("session_id", q.SessionID), zap.Int("query_len", len(q.Query)))
		h.respond(conn, q)
	}
}

func (h *StreamHandler) respond(conn *websocket.Conn, q stream.QueryFrame) {
	score := 0.87
	rerank := 0.91
	sources := []entity.Source{
		{
			Origin:      entity.SourceOriginSlack,
			Score:       &score,
			RerankScore: &rerank,
			Excerpt:     "我们在 #eng-infra 里确认过，部署窗口定在周四上午。",
			Metadata:    map[string]string{"channel": "eng-infra", "user": "U02KXQ9", "timestamp": "1725170400.000200"},
		},
		{
			Origin:   entity.SourceOriginGmail,
			Excerpt:  "附件里是上季度的容量规划，重点看第 3 节。",
			Metadata: map[string]string{"from": "ops@example.com", "subject": "容量规划 Q2", "date": "2025-08-12"},
		},
	}

	h.write(conn, outFrame{Type: stream.FrameStatus, Content: "Step 1: 正在检索相关内容"})
	h.write(conn, outFrame{Type: stream.FrameSources, Content: sources})
	h.write(conn, outFrame{Type: stream.FrameStatus, Content: "Reasoning Summary: 综合两条证据作答"})

	answer := fmt.Sprintf("关于「%s」：根据检索到的记录，部署窗口在周四上午，容量规划详见邮件附件第 3 节。", strings.TrimSpace(q.Query))
	for _, token := range strings.Split(answer, "") {
		h.write(conn, outFrame{Type: stream.FrameToken, Content: token})
		time.Sleep(10 * time.Millisecond)
	}

	h.write(conn, outFrame{Type: stream.FrameDone})
}

func (h *StreamHandler) write(conn *websocket.Conn, f outFrame) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(f); err != nil {
		zlog.Warn("stub stream write failed", zap.Error(err))
	}
}
