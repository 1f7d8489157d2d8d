package mqtt

import (
	"context"
	"fmt"

	"fleet-core/internal/config"
	"fleet-core/pkg/mqttclient"

	"go.uber.org/zap"
)

// Consumer MQTT订阅消费者
// 订阅三个入站通道，消息交给路由器分发
type Consumer struct {
	config     *config.Config
	mqttClient *mqttclient.Client
	router     *Router
	logger     *zap.Logger
}

// NewConsumer 创建消费者
func NewConsumer(
	cfg *config.Config,
	client *mqttclient.Client,
	router *Router,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		config:     cfg,
		mqttClient: client,
		router:     router,
		logger:     logger,
	}
}

// topics 订阅的主题通配列表
func (c *Consumer) topics() []string {
	ns := c.config.Fleet.TopicNamespace
	return []string{
		fmt.Sprintf("%s/+/%s", ns, ChannelTelemetry),
		fmt.Sprintf("%s/+/%s", ns, ChannelAlerts),
		fmt.Sprintf("%s/+/%s", ns, ChannelCommandAck),
	}
}

// Start 启动消费者（阻塞直到上下文取消）
func (c *Consumer) Start(ctx context.Context) error {
	qos := c.config.MQTT.QoS
	for _, topic := range c.topics() {
		if err := c.mqttClient.Subscribe(topic, qos, c.router.HandleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.logger.Info("Subscribed to topic",
			zap.String("topic", topic),
		)
	}

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.topics()...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}
