package identity

import (
	"sync"

	"SageLink/pkg/zlog"

	"go.uber.org/zap"
)

// TokenParser 从凭证里解出用户标识
type TokenParser func(token string) (userID string, err error)

// Manager 跟踪当前登录身份。身份发生 none→user 或 userA→userB
// 迁移时触发重置钩子（清空会话存储和本地快照），userA→userA 的
// 重复设置不触发。会话存储自身不重复实现这条不变式。
type Manager struct {
	parse   TokenParser
	onReset func()

	mu     sync.Mutex
	token  string
	userID string
}

func NewManager(parse TokenParser, onReset func()) *Manager {
	return &Manager{parse: parse, onReset: onReset}
}

func (m *Manager) SetToken(token string) error {
	userID, err := m.parse(token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	changed := userID != m.userID
	m.token = token
	m.userID = userID
	fn := m.onReset
	m.mu.Unlock()

	if changed {
		zlog.Info("identity changed, resetting local state", zap.String("user_id", userID))
		if fn != nil {
			fn()
		}
	}
	return nil
}

func (m *Manager) Logout() {
	m.mu.Lock()
	hadUser := m.userID != ""
	m.token = ""
	m.userID = ""
	fn := m.onReset
	m.mu.Unlock()

	if hadUser {
		zlog.Info("identity logged out, resetting local state")
		if fn != nil {
			fn()
		}
	}
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}
