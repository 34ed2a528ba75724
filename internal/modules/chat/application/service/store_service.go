package service

import (
	"strings"
	"sync"
	"time"

	"SageLink/internal/modules/chat/domain/entity"
	"SageLink/pkg/util"
)

const defaultSessionTitle = "新会话"

// 会话标题取首条用户消息截断
const sessionTitleMaxRunes = 32

// StoreService 会话存储：所有 Session/Message/Source 数据的唯一写入方。
// Streaming Link 与 Pipeline Coordinator 只通过这里暴露的操作修改状态，
// 不持有任何独立副本。
type StoreService interface {
	// 会话生命周期
	CreateSession() string
	DeleteSession(id string)
	SetCurrent(id string)
	RenameSession(id string, title string)
	CurrentSessionID() string
	Sessions() []entity.Session
	CurrentMessages() []entity.Message

	// 消息
	AddMessage(role, content string, sources []entity.Source, reasoningSteps []string)

	// 流式缓冲区
	StartStreaming()
	AppendStreamingToken(text string)
	SetStreamingSources(sources []entity.Source)
	AddReasoningStep(step string)
	ClearReasoningSteps()
	SetStreaming(streaming bool)
	SetStreamingText(text string)
	FinishStreaming()
	Buffer() entity.StreamBuffer
	IsStreaming() bool

	// 身份切换时清空，避免跨身份泄漏会话历史
	ResetStore()

	// 快照（持久化由 infrastructure/persistence 负责落盘）
	Snapshot() *StoreState
	Restore(state *StoreState)

	// 界面层观察钩子：缓冲区或消息列表变化后回调（可为 nil）
	SetOnChange(fn func())
}

// StoreState 可持久化的存储快照
type StoreState struct {
	Sessions         []entity.Session            `json:"sessions"`
	Messages         map[string][]entity.Message `json:"messages"`
	CurrentSessionID string                      `json:"current_session_id"`
}

type storeServiceImpl struct {
	mu        sync.Mutex
	sessions  []entity.Session            // 插入序，不重排
	messages  map[string][]entity.Message // sessionID -> 消息列表
	currentID string
	buffer    entity.StreamBuffer
	onChange  func()
}

func NewStoreService() StoreService {
	return &storeServiceImpl{
		messages: make(map[string][]entity.Message),
	}
}

func (s *storeServiceImpl) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// notify 必须在解锁后调用
func (s *storeServiceImpl) notify(fn func()) {
	if fn != nil {
		fn()
	}
}

func (s *storeServiceImpl) CreateSession() string {
	s.mu.Lock()
	id := s.createSessionLocked()
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
	return id
}

func (s *storeServiceImpl) createSessionLocked() string {
	now := time.Now()
	sess := entity.Session{
		ID:        util.GenerateShortUUID(),
		Title:     defaultSessionTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions = append(s.sessions, sess)
	s.messages[sess.ID] = nil
	s.currentID = sess.ID
	return sess.ID
}

func (s *storeServiceImpl) DeleteSession(id string) {
	s.mu.Lock()
	idx := -1
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	delete(s.messages, id)

	// 删除当前会话时必须确定性地选出后继：取列表末位，没有则新建
	if s.currentID == id {
		if len(s.sessions) > 0 {
			s.currentID = s.sessions[len(s.sessions)-1].ID
		} else {
			s.createSessionLocked()
		}
	}
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) SetCurrent(id string) {
	s.mu.Lock()
	// 未知 id 也直接切换：消息视图呈现为空列表，不报错
	s.currentID = id
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) RenameSession(id string, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	s.mu.Lock()
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions[i].Title = title
			s.sessions[i].UpdatedAt = time.Now()
			break
		}
	}
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) CurrentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

func (s *storeServiceImpl) Sessions() []entity.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *storeServiceImpl) CurrentMessages() []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[s.currentID]
	out := make([]entity.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *storeServiceImpl) AddMessage(role, content string, sources []entity.Source, reasoningSteps []string) {
	s.mu.Lock()
	s.addMessageLocked(role, content, sources, reasoningSteps)
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) addMessageLocked(role, content string, sources []entity.Source, reasoningSteps []string) {
	if s.currentID == "" {
		// 首次使用时隐式创建会话
		s.createSessionLocked()
	}
	now := time.Now()
	msg := entity.Message{
		ID:             util.GenerateUUID(),
		SessionID:      s.currentID,
		Role:           role,
		Content:        content,
		Sources:        sources,
		ReasoningSteps: reasoningSteps,
		CreatedAt:      now,
	}
	s.messages[s.currentID] = append(s.messages[s.currentID], msg)

	for i := range s.sessions {
		if s.sessions[i].ID != s.currentID {
			continue
		}
		s.sessions[i].UpdatedAt = now
		// 首条用户消息作为会话标题
		if role == entity.RoleUser && s.sessions[i].Title == defaultSessionTitle {
			s.sessions[i].Title = truncateTitle(content)
		}
		break
	}
}

func truncateTitle(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return defaultSessionTitle
	}
	if len(runes) > sessionTitleMaxRunes {
		return string(runes[:sessionTitleMaxRunes]) + "…"
	}
	return string(runes)
}

func (s *storeServiceImpl) StartStreaming() {
	s.mu.Lock()
	s.buffer = entity.StreamBuffer{Streaming: true}
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) AppendStreamingToken(text string) {
	s.mu.Lock()
	s.buffer.Text += text
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) SetStreamingSources(sources []entity.Source) {
	s.mu.Lock()
	// 整体替换而非累加
	s.buffer.Sources = sources
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) AddReasoningStep(step string) {
	s.mu.Lock()
	s.buffer.ReasoningSteps = append(s.buffer.ReasoningSteps, step)
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) ClearReasoningSteps() {
	s.mu.Lock()
	s.buffer.ReasoningSteps = nil
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) SetStreaming(streaming bool) {
	s.mu.Lock()
	s.buffer.Streaming = streaming
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) SetStreamingText(text string) {
	s.mu.Lock()
	s.buffer.Text = text
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

// FinishStreaming 缓冲区文本非空时原子地转成一条助手消息并清空缓冲区；
// 文本为空则什么都不做（纯工具调用回合不产生空消息）。
func (s *storeServiceImpl) FinishStreaming() {
	s.mu.Lock()
	if s.buffer.Text != "" {
		s.addMessageLocked(entity.RoleAssistant, s.buffer.Text, s.buffer.Sources, s.buffer.ReasoningSteps)
	}
	s.buffer = entity.StreamBuffer{}
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) Buffer() entity.StreamBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffer
	buf.Sources = append([]entity.Source(nil), s.buffer.Sources...)
	buf.ReasoningSteps = append([]string(nil), s.buffer.ReasoningSteps...)
	return buf
}

func (s *storeServiceImpl) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Streaming
}

func (s *storeServiceImpl) ResetStore() {
	s.mu.Lock()
	s.sessions = nil
	s.messages = make(map[string][]entity.Message)
	s.currentID = ""
	s.buffer = entity.StreamBuffer{}
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}

func (s *storeServiceImpl) Snapshot() *StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &StoreState{
		Sessions:         make([]entity.Session, len(s.sessions)),
		Messages:         make(map[string][]entity.Message, len(s.messages)),
		CurrentSessionID: s.currentID,
	}
	copy(state.Sessions, s.sessions)
	for id, msgs := range s.messages {
		state.Messages[id] = append([]entity.Message(nil), msgs...)
	}
	return state
}

func (s *storeServiceImpl) Restore(state *StoreState) {
	if state == nil {
		return
	}
	s.mu.Lock()
	s.sessions = append([]entity.Session(nil), state.Sessions...)
	s.messages = make(map[string][]entity.Message, len(state.Messages))
	for id, msgs := range state.Messages {
		s.messages[id] = append([]entity.Message(nil), msgs...)
	}
	s.currentID = state.CurrentSessionID
	s.buffer = entity.StreamBuffer{}
	fn := s.onChange
	s.mu.Unlock()
	s.notify(fn)
}
