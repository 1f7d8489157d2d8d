package mqtt

import (
	"strings"

	"go.uber.org/zap"
)

// 通道名
const (
	ChannelTelemetry  = "telemetry"
	ChannelAlerts     = "alerts"
	ChannelCommandAck = "command-ack"
)

// HandlerFunc 通道处理函数
// 返回的错误由调用方记录；处理函数内部可以再交给异步工作池
type HandlerFunc func(robotID string, payload []byte) error

// Router 主题路由器
// 把 {namespace}/{robotID}/{channel} 形式的主题解析为 (robotID, channel)
// 并同步分发到对应处理函数。畸形主题记录警告后丢弃——
// 单条坏消息不能中断订阅循环，所以 HandleMessage 永远返回 nil
type Router struct {
	namespace  string
	telemetry  HandlerFunc
	alerts     HandlerFunc
	commandAck HandlerFunc
	logger     *zap.Logger
}

// NewRouter 创建主题路由器
func NewRouter(
	namespace string,
	telemetry HandlerFunc,
	alerts HandlerFunc,
	commandAck HandlerFunc,
	logger *zap.Logger,
) *Router {
	return &Router{
		namespace:  namespace,
		telemetry:  telemetry,
		alerts:     alerts,
		commandAck: commandAck,
		logger:     logger,
	}
}

// HandleMessage 处理单条总线消息
func (r *Router) HandleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		r.logger.Warn("Dropping message with malformed topic",
			zap.String("topic", topic),
			zap.Int("segments", len(parts)),
		)
		return nil
	}

	namespace, robotID, channel := parts[0], parts[1], parts[2]
	if namespace != r.namespace || robotID == "" {
		r.logger.Warn("Dropping message with malformed topic",
			zap.String("topic", topic),
		)
		return nil
	}

	var handler HandlerFunc
	switch channel {
	case ChannelTelemetry:
		handler = r.telemetry
	case ChannelAlerts:
		handler = r.alerts
	case ChannelCommandAck:
		handler = r.commandAck
	default:
		r.logger.Warn("Dropping message with unknown channel",
			zap.String("topic", topic),
			zap.String("channel", channel),
		)
		return nil
	}

	if err := handler(robotID, payload); err != nil {
		// 单条消息的失败隔离在该消息内
		r.logger.Error("Message handler failed",
			zap.String("topic", topic),
			zap.String("robot_id", robotID),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}

	return nil
}
