package broadcast

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session 订阅者会话
// 由推送中心独占持有：关注集合只通过 Subscribe/Unsubscribe 变更
type Session struct {
	ID        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	interests map[string]struct{}
	all       bool
	logger    *zap.Logger
}

// matches 判断事件是否命中该会话的关注集合
func (s *Session) matches(robotID string) bool {
	if s.all {
		return true
	}
	_, ok := s.interests[robotID]
	return ok
}

// controlMessage 客户端控制消息（订阅/退订）
type controlMessage struct {
	Action  string `json:"action"` // "subscribe" 或 "unsubscribe"
	RobotID string `json:"robotId"`
}

// readPump 读取客户端控制消息，连接断开时注销会话
func (s *Session) readPump(maxMessageSize int64) {
	defer func() {
		s.hub.Unregister(s.ID)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket read error",
					zap.String("session_id", s.ID),
					zap.Error(err),
				)
			}
			break
		}

		var ctrl controlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			s.logger.Debug("Ignoring malformed control message",
				zap.String("session_id", s.ID),
			)
			continue
		}

		switch ctrl.Action {
		case "subscribe":
			s.hub.Subscribe(s.ID, ctrl.RobotID)
			s.logger.Info("Session subscribed",
				zap.String("session_id", s.ID),
				zap.String("robot_id", ctrl.RobotID),
			)
		case "unsubscribe":
			s.hub.Unsubscribe(s.ID, ctrl.RobotID)
		default:
			s.logger.Debug("Unknown control action",
				zap.String("session_id", s.ID),
				zap.String("action", ctrl.Action),
			)
		}
	}
}

// writePump 把推送中心投递的事件写到连接，并周期性发送 ping
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 推送中心已摘除该会话
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS WebSocket接入点：升级连接并创建会话
// 可选查询参数 robot（可多次出现，"*" 表示全部）作为初始关注集合
func ServeWS(hub *Hub, sendBuffer int, maxMessageSize int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Failed to upgrade websocket", zap.Error(err))
			return
		}

		session := &Session{
			ID:        uuid.New().String(),
			hub:       hub,
			conn:      conn,
			send:      make(chan []byte, sendBuffer),
			interests: make(map[string]struct{}),
			logger:    logger,
		}

		hub.Register(session)
		for _, robotID := range r.URL.Query()["robot"] {
			hub.Subscribe(session.ID, robotID)
		}

		go session.writePump()
		go session.readPump(maxMessageSize)
	}
}
