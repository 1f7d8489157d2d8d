package models

import (
	"time"
)

// Telemetry 遥测记录（单条上报，字段均可缺省，缺省字段不参与合并）
// 临时数据：只被调和器消费，不单独落库
type Telemetry struct {
	RobotID     string       `json:"robot_id"`
	Battery     *float64     `json:"battery,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	MotorHealth *float64     `json:"motor_health,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Speed       *float64     `json:"speed,omitempty"`
	TasksDelta  *int64       `json:"tasks_delta,omitempty"` // 本条消息新完成的任务数
	Efficiency  *float64     `json:"efficiency,omitempty"`
	Errors      []string     `json:"errors,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"` // 到达时间（由消费端填写）
}

// Condition 阈值穿越条件（调和器输出，报警生成器输入）
type Condition struct {
	RobotID  string `json:"robot_id"`
	Type     string `json:"type"`     // 报警类型（battery_low 等）
	Severity string `json:"severity"` // 报警级别
	Message  string `json:"message"`
}
