package dispatcher

import (
	"sync"
	"time"

	"fleet-core/internal/models"
)

// CommandStore 在途命令表（内存态）
// 状态流转必须经过 CompareAndTransition：回执路径和超时巡检
// 可能同时观察到同一条 pending 记录，谁先完成 CAS 谁生效，
// 另一方成为空操作
type CommandStore struct {
	mu       sync.RWMutex
	commands map[string]*models.Command
}

// NewCommandStore 创建命令表
func NewCommandStore() *CommandStore {
	return &CommandStore{
		commands: make(map[string]*models.Command),
	}
}

// Put 登记新命令
func (s *CommandStore) Put(cmd *models.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[cmd.CommandID] = cmd
}

// Get 查询命令（返回副本，避免调用方看到中间态）
func (s *CommandStore) Get(commandID string) (*models.Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return nil, false
	}
	copied := *cmd
	return &copied, true
}

// CompareAndTransition 原子状态流转：当前状态等于 from 时置为 to
// 返回是否生效
func (s *CommandStore) CompareAndTransition(commandID, from, to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok || cmd.Status != from {
		return false
	}
	cmd.Status = to
	cmd.UpdatedAt = time.Now()
	return true
}

// PendingOlderThan 列出下发时间早于 cutoff 且仍为 pending 的命令ID
func (s *CommandStore) PendingOlderThan(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, cmd := range s.commands {
		if cmd.Status == models.CommandStatusPending && cmd.IssuedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
