package models

import (
	"time"
)

// 报警类型枚举
const (
	AlertBatteryLow        = "battery_low"
	AlertTemperatureHigh   = "temperature_high"
	AlertMotorFailure      = "motor_failure"
	AlertConnectionLost    = "connection_lost"
	AlertMaintenanceDue    = "maintenance_due"
	AlertCollisionDetected = "collision_detected"
	AlertFirmwareUpdate    = "firmware_update"
)

// 报警级别枚举（升级比较时按 SeverityRank 单调排序）
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// 报警状态枚举
const (
	AlertStatusActive       = "active"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
)

// SeverityRank 报警级别排序值（越大越严重，未知级别返回0）
func SeverityRank(severity string) int {
	switch severity {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AlertAction 报警处理动作记录（追加写，作为审计轨迹）
type AlertAction struct {
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
	Notes       *string   `json:"notes,omitempty"`
}

// Alert 报警事件（对应 alerts 表）
type Alert struct {
	AlertID        string        `json:"alert_id" db:"alert_id"`
	RobotID        string        `json:"robot_id" db:"robot_id"`
	Type           string        `json:"type" db:"type"`
	Severity       string        `json:"severity" db:"severity"`
	Status         string        `json:"status" db:"status"`
	Message        string        `json:"message" db:"message"`
	TriggeredAt    time.Time     `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     *string       `json:"resolved_by,omitempty" db:"resolved_by"`
	Actions        []AlertAction `json:"actions"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// Duration 报警持续秒数（未解决则计算到当前时间）
func (a *Alert) Duration(now time.Time) int64 {
	end := now
	if a.ResolvedAt != nil {
		end = *a.ResolvedAt
	}
	return int64(end.Sub(a.TriggeredAt).Seconds())
}
