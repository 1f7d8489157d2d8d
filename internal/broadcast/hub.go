package broadcast

import (
	"encoding/json"
	"sync"

	"fleet-core/internal/models"

	"go.uber.org/zap"
)

// Wildcard 订阅全部机器人
const Wildcard = "*"

// Hub 实时推送中心
// 维护会话注册表和每个会话的关注集合。注册表读多写少：
// publish 并发读，connect/disconnect 偶发写，用 RWMutex 保护；
// 投递为尽力而为、每事件每会话至多一次——发送缓冲写满视为慢消费者，
// 直接摘除该会话，不做重放
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewHub 创建推送中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register 注册会话（连接建立时）
func (h *Hub) Register(session *Session) {
	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()

	h.logger.Info("Session registered",
		zap.String("session_id", session.ID),
	)
}

// Unregister 注销会话（断开时）；对未知会话为空操作
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		close(session.send)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Info("Session unregistered",
			zap.String("session_id", sessionID),
		)
	}
}

// Subscribe 把机器人加入会话的关注集合（robotID 为 "*" 表示全部）
func (h *Hub) Subscribe(sessionID, robotID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if robotID == Wildcard {
		session.all = true
		return
	}
	session.interests[robotID] = struct{}{}
}

// Unsubscribe 把机器人移出会话的关注集合
func (h *Hub) Unsubscribe(sessionID, robotID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if robotID == Wildcard {
		session.all = false
		return
	}
	delete(session.interests, robotID)
}

// Publish 把事件投递给所有关注该机器人的会话
// 单机器人的事件由同一个工作分片串行发布，保证每个会话内按产生顺序收到；
// 慢消费者（缓冲写满）收集后统一摘除
func (h *Hub) Publish(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event",
			zap.String("robot_id", event.RobotID),
			zap.Error(err),
		)
		return
	}

	var slow []string

	h.mu.RLock()
	for _, session := range h.sessions {
		if !session.matches(event.RobotID) {
			continue
		}
		select {
		case session.send <- payload:
		default:
			slow = append(slow, session.ID)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.Warn("Session send buffer full, dropping session",
			zap.String("session_id", id),
		)
		h.Unregister(id)
	}
}

// SessionCount 当前会话数
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
