package models

import (
	"encoding/json"
	"time"
)

// 命令状态枚举（pending 为唯一非终态）
const (
	CommandStatusPending      = "pending"
	CommandStatusAcknowledged = "acknowledged"
	CommandStatusTimedOut     = "timed_out"
	CommandStatusFailed       = "failed"
)

// Command 命令记录
type Command struct {
	CommandID  string         `json:"command_id"`
	RobotID    string         `json:"robot_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
	IssuedBy   string         `json:"issued_by"`
	IssuedAt   time.Time      `json:"issued_at"`
	Status     string         `json:"status"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// CommandPayload 命令下发的MQTT载荷（robots/{id}/commands）
type CommandPayload struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
	CommandID  string         `json:"commandId"`
	IssuedBy   string         `json:"issuedBy"`
}

// CommandAck 命令回执的MQTT载荷（robots/{id}/command-ack）
type CommandAck struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"` // "acknowledged" 或 "failed"
	Message   string `json:"message,omitempty"`
}

// Event 实时推送事件（遥测更新或报警）
type Event struct {
	Type      string          `json:"type"` // "telemetry-update" 或 "alert"
	RobotID   string          `json:"robotId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// 推送事件类型
const (
	EventTelemetryUpdate = "telemetry-update"
	EventAlert           = "alert"
)
