package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"SageLink/internal/config"
	"SageLink/internal/identity"
	chatService "SageLink/internal/modules/chat/application/service"
	"SageLink/internal/modules/chat/domain/entity"
	"SageLink/internal/modules/chat/infrastructure/persistence"
	"SageLink/internal/modules/chat/interface/stream"
	pipelineService "SageLink/internal/modules/pipeline/application/service"
	"SageLink/internal/modules/pipeline/domain/job"
	"SageLink/internal/modules/pipeline/infrastructure/backend"
	"SageLink/pkg/util/myjwt"
	"SageLink/pkg/zlog"

	"go.uber.org/zap"
)

func main() {
	conf := config.GetConfig()

	store := chatService.NewStoreService()
	snap := persistence.NewSnapshotStore(conf.StateConfig.SnapshotPath)

	idm := identity.NewManager(
		func(token string) (string, error) {
			claims, err := myjwt.ParseToken(token)
			if err != nil {
				return "", err
			}
			return claims.Uuid, nil
		},
		func() {
			// 身份切换：会话历史连同本地快照一起清掉
			store.ResetStore()
			snap.Wipe()
			store.CreateSession()
		},
	)

	api := backend.NewClient(
		conf.BackendConfig.BaseURL,
		time.Duration(conf.BackendConfig.RequestTimeoutSeconds)*time.Second,
		idm.Token,
	)
	poller := pipelineService.NewPoller(time.Duration(conf.PipelineConfig.PollIntervalSeconds) * time.Second)
	pipelines := pipelineService.NewManager(api, poller, time.Duration(conf.PipelineConfig.CacheTTLMinutes)*time.Minute)
	if conf.PipelineConfig.GmailDefaultLabelID != "" {
		pipelines.SetGmailLabel(conf.PipelineConfig.GmailDefaultLabelID)
	}

	restoreState(store, pipelines, snap)
	if store.CurrentSessionID() == "" {
		store.CreateSession()
	}

	// 流式输出直接落到终端：缓冲区每次变化打印增量
	printer := newStreamPrinter(store)
	store.SetOnChange(printer.onChange)

	link := stream.NewLink(
		store,
		stream.DefaultDialer(time.Duration(conf.LinkConfig.HandshakeTimeoutSeconds)*time.Second),
		conf.BackendConfig.WsURL,
		conf.LinkConfig.ReconnectMaxAttempts,
		time.Duration(conf.LinkConfig.ReconnectDelaySeconds)*time.Second,
	)
	link.Connect()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Printf("%s 客户端已启动，输入 /help 查看命令\n", conf.MainConfig.AppName)

	ctx := context.Background()
	running := true
	for running {
		select {
		case <-quit:
			running = false
		case line, ok := <-lines:
			if !ok {
				running = false
				break
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if !handleCommand(ctx, line, store, link, pipelines, idm) {
					running = false
				}
				saveState(store, pipelines, snap)
				continue
			}
			if store.IsStreaming() {
				fmt.Println("上一条回答还在生成中，请稍候")
				continue
			}
			store.AddMessage(entity.RoleUser, line, nil, nil)
			// 掉线时 Send 不排队：提示文本由缓冲区透出，打印交给 printer
			_ = link.Send(line)
			saveState(store, pipelines, snap)
		}
	}

	link.Close()
	saveState(store, pipelines, snap)
	zlog.Info("客户端已退出")
	zlog.Sync()
}

// handleCommand 返回 false 表示退出
func handleCommand(ctx context.Context, line string, store chatService.StoreService, link *stream.Link, pipelines *pipelineService.Manager, idm *identity.Manager) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/help":
		fmt.Println("/new 新会话 | /sessions 列出会话 | /use <id> 切换 | /del <id> 删除")
		fmt.Println("/label <id> 选择 Gmail 标签 | /run <slack|gmail|notion> | /stop <source> | /status")
		fmt.Println("/token <jwt> 登录 | /logout | /reconnect | /quit")
	case "/new":
		id := store.CreateSession()
		fmt.Println("新会话:", id)
	case "/sessions":
		current := store.CurrentSessionID()
		for _, s := range store.Sessions() {
			marker := "  "
			if s.ID == current {
				marker = "* "
			}
			fmt.Printf("%s%s  %s\n", marker, s.ID, s.Title)
		}
	case "/use":
		store.SetCurrent(arg)
	case "/del":
		store.DeleteSession(arg)
	case "/label":
		pipelines.SetGmailLabel(arg)
	case "/run":
		if err := pipelines.Run(ctx, arg); err != nil {
			fmt.Println("启动失败:", err)
		}
	case "/stop":
		pipelines.Stop(ctx, arg)
	case "/status":
		fmt.Println("link:", link.State())
		for _, source := range pipelines.Sources() {
			c := pipelines.Coordinator(source)
			last := "-"
			if t := c.LastRun(); t != nil {
				last = t.Format(time.RFC3339)
			}
			fmt.Printf("%s: running=%v status=%q last_run=%s\n", source, c.Running(), c.Status(), last)
		}
	case "/token":
		if err := idm.SetToken(arg); err != nil {
			fmt.Println("无效 token:", err)
		}
	case "/logout":
		idm.Logout()
		store.CreateSession()
	case "/reconnect":
		link.Reconnect()
	case "/quit":
		return false
	default:
		fmt.Println("未知命令:", cmd)
	}
	return true
}

func restoreState(store chatService.StoreService, pipelines *pipelineService.Manager, snap *persistence.SnapshotStore) {
	state := snap.Load()
	if state.Store != nil {
		store.Restore(state.Store)
	}
	for _, source := range pipelines.Sources() {
		ps, ok := state.Pipelines[source]
		if !ok {
			continue
		}
		pipelines.Coordinator(source).SetLastRun(ps.LastRunAt)
		if source == job.SourceGmail && ps.SelectedLabelID != "" {
			pipelines.SetGmailLabel(ps.SelectedLabelID)
		}
	}
}

func saveState(store chatService.StoreService, pipelines *pipelineService.Manager, snap *persistence.SnapshotStore) {
	state := &persistence.State{
		Store:     store.Snapshot(),
		Pipelines: make(map[string]persistence.PipelineState),
	}
	for _, source := range pipelines.Sources() {
		ps := persistence.PipelineState{LastRunAt: pipelines.Coordinator(source).LastRun()}
		if source == job.SourceGmail {
			ps.SelectedLabelID = pipelines.GmailLabel()
		}
		state.Pipelines[source] = ps
	}
	if err := snap.Save(state); err != nil {
		zlog.Warn("保存状态快照失败", zap.Error(err))
	}
}

// streamPrinter 把流式缓冲区的增量打到终端
type streamPrinter struct {
	store      chatService.StoreService
	mu         sync.Mutex
	printed    int
	active     bool
	lastNotice string
}

func newStreamPrinter(store chatService.StoreService) *streamPrinter {
	return &streamPrinter{store: store}
}

func (p *streamPrinter) onChange() {
	buf := p.store.Buffer()

	p.mu.Lock()
	defer p.mu.Unlock()

	if buf.Streaming {
		if !p.active {
			p.active = true
			p.printed = 0
			p.lastNotice = ""
		}
		if len(buf.Text) > p.printed {
			fmt.Print(buf.Text[p.printed:])
			p.printed = len(buf.Text)
		}
		return
	}

	if p.active {
		// 流结束：补一个换行，附带证据条数
		p.active = false
		p.printed = 0
		fmt.Println()
		msgs := p.store.CurrentMessages()
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			if last.Role == entity.RoleAssistant && len(last.Sources) > 0 {
				fmt.Printf("[证据 %d 条]\n", len(last.Sources))
			}
		}
		return
	}

	// 非流式状态下写入的缓冲区文本是错误/掉线提示，打印一次
	if buf.Text != "" && buf.Text != p.lastNotice {
		p.lastNotice = buf.Text
		fmt.Println(buf.Text)
	}
}
