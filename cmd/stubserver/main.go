package main

import (
	https_server "SageLink/api/http"
	"SageLink/internal/config"
	"SageLink/pkg/zlog"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.StubConfig.Host
	port := conf.StubConfig.Port

	// 2. 启动模拟后端
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("模拟后端正在启动，监听地址: %s", addr))
		if err := https_server.GE.Run(addr); err != nil {
			zlog.Fatal("模拟后端启动失败: " + err.Error())
			return
		}
	}()

	// 3. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("模拟后端已关闭")
}
