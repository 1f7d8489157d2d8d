package notifier

import (
	"fmt"
	"time"

	"fleet-core/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CloudNotifier 云端报警推送
// error 及以上级别的报警额外推送到配置的云端接收地址；
// 推送失败只记录日志，绝不阻塞摄取主流程
type CloudNotifier struct {
	httpClient *resty.Client
	enabled    bool
	logger     *zap.Logger
}

// notifyResponse 云端接收方响应
type notifyResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// NewCloudNotifier 创建云端推送客户端
func NewCloudNotifier(endpoint, apiKey string, enabled bool, logger *zap.Logger) *CloudNotifier {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")

	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}

	return &CloudNotifier{
		httpClient: client,
		enabled:    enabled,
		logger:     logger,
	}
}

// NotifyAlert 推送报警到云端
// 只推送 error/critical 级别；disabled 时为空操作
func (n *CloudNotifier) NotifyAlert(alert *models.Alert) {
	if !n.enabled || alert == nil {
		return
	}
	if models.SeverityRank(alert.Severity) < models.SeverityRank(models.SeverityError) {
		return
	}

	go func() {
		if err := n.push(alert); err != nil {
			n.logger.Error("Failed to push alert to cloud",
				zap.String("alert_id", alert.AlertID),
				zap.String("robot_id", alert.RobotID),
				zap.Error(err),
			)
		}
	}()
}

func (n *CloudNotifier) push(alert *models.Alert) error {
	var response notifyResponse
	resp, err := n.httpClient.R().
		SetBody(alert).
		SetResult(&response).
		Post("/alerts")
	if err != nil {
		return fmt.Errorf("failed to call cloud endpoint: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("cloud endpoint returned %d", resp.StatusCode())
	}
	if response.Status != 0 {
		return fmt.Errorf("cloud endpoint error: %s (status: %d)", response.Msg, response.Status)
	}

	n.logger.Info("Alert pushed to cloud",
		zap.String("alert_id", alert.AlertID),
		zap.String("severity", alert.Severity),
	)

	return nil
}
