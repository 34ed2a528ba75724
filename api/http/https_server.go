package http

import (
	"strings"

	"SageLink/internal/config"
	jwtMiddleware "SageLink/internal/middleware/jwt"
	chatHandler "SageLink/internal/modules/chat/interface/http"
	pipelineHandler "SageLink/internal/modules/pipeline/interface/http"
	"SageLink/pkg/back"
	"SageLink/pkg/ssl"
	"SageLink/pkg/util/myjwt"
	"SageLink/pkg/xerr"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var GE *gin.Engine

func init() {
	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	if config.GetConfig().StubConfig.SSLRedirect {
		GE.Use(ssl.TlsHandler(config.GetConfig().StubConfig.Host, config.GetConfig().StubConfig.Port))
	}

	streamH := chatHandler.NewStreamHandler()
	pipelineH := pipelineHandler.NewStubPipelineHandler()

	GE.POST("/login", login)
	// WebSocket 握手带不了自定义 Header，token 放在 URL 参数里由升级前校验
	GE.GET("/wss", streamH.Connect)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.POST("/pipelines/:source/run", pipelineH.Run)
	authed.GET("/pipelines/:source/status/:run_id", pipelineH.Status)
	authed.POST("/pipelines/:source/stop/:run_id", pipelineH.Stop)
	authed.GET("/sources/slack/channels", pipelineH.SlackChannels)
	authed.GET("/sources/gmail/labels", pipelineH.GmailLabels)
	authed.GET("/sources/gmail/messages", pipelineH.GmailMessages)
	authed.GET("/sources/notion/pages", pipelineH.NotionPages)
}

// login 联调用的登录：任意用户名直接换一个签好的 token
func login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		back.Result(c, nil, xerr.New(xerr.BadRequest, xerr.ErrParam.Message))
		return
	}
	// uuid 由用户名确定，同名重复登录不会被客户端当成身份切换
	token, err := myjwt.GenerateToken("stub_"+strings.TrimSpace(req.Username), req.Username)
	if err != nil {
		back.Result(c, nil, xerr.ErrServerError)
		return
	}
	back.Success(c, gin.H{"token": token})
}
