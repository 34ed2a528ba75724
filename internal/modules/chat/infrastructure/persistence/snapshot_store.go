package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"SageLink/internal/modules/chat/application/service"
	"SageLink/pkg/zlog"

	"go.uber.org/zap"
)

// PipelineState 每条管线需要跨重启保留的界面状态
type PipelineState struct {
	SelectedLabelID string     `json:"selected_label_id,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

// State 客户端持久化状态，整体作为单个 JSON blob 落盘
type State struct {
	Store     *service.StoreState      `json:"store,omitempty"`
	Pipelines map[string]PipelineState `json:"pipelines,omitempty"`
}

// SnapshotStore 把客户端状态写成单个 JSON 文件。
// 损坏或缺失的文件一律退化为空状态，不向上抛错。
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (s *SnapshotStore) Load() *State {
	state := &State{Pipelines: make(map[string]PipelineState)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			zlog.Warn("读取状态快照失败", zap.Error(err), zap.String("path", s.path))
		}
		return state
	}
	if err := json.Unmarshal(data, state); err != nil {
		zlog.Warn("状态快照损坏，使用空状态", zap.Error(err), zap.String("path", s.path))
		return &State{Pipelines: make(map[string]PipelineState)}
	}
	if state.Pipelines == nil {
		state.Pipelines = make(map[string]PipelineState)
	}
	return state
}

// Save 先写临时文件再改名，避免进程中途退出留下半截文件
func (s *SnapshotStore) Save(state *State) error {
	if state == nil {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Wipe 身份切换时连快照一起清掉
func (s *SnapshotStore) Wipe() {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		zlog.Warn("清除状态快照失败", zap.Error(err), zap.String("path", s.path))
	}
}
