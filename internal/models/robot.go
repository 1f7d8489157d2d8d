package models

import (
	"time"
)

// 机器人状态枚举
const (
	StatusActive         = "active"
	StatusIdle           = "idle"
	StatusMaintenance    = "maintenance"
	StatusError          = "error"
	StatusOffline        = "offline"
	StatusDecommissioned = "decommissioned" // 终态：退役后不再接受状态变更
)

// 机器人型号枚举
const (
	ModelGMW100 = "GM-W100"
	ModelGMW200 = "GM-W200"
	ModelGMF150 = "GM-F150"
	ModelGMF300 = "GM-F300"
	ModelGMX500 = "GM-X500"
)

// OnlineWindow 在线判定窗口：lastSeen 距当前时间不超过5分钟视为在线
const OnlineWindow = 5 * time.Minute

// Coordinates 三维坐标
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Location 机器人位置
type Location struct {
	Facility    string       `json:"facility"`
	Zone        string       `json:"zone,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Health 健康指标
type Health struct {
	Battery     float64 `json:"battery"`      // 电量百分比 0-100
	Temperature float64 `json:"temperature"`  // 摄氏温度
	MotorHealth float64 `json:"motor_health"` // 电机健康度百分比 0-100
}

// Performance 性能计数
type Performance struct {
	Uptime         float64 `json:"uptime"` // 运行时长（小时）
	TasksCompleted int64   `json:"tasks_completed"`
	Efficiency     float64 `json:"efficiency"` // 效率百分比 0-100
}

// Robot 机器人实体（对应 robots 表）
type Robot struct {
	SerialNumber    string      `json:"serial_number" db:"serial_number"`
	Model           string      `json:"model" db:"model"`
	Name            string      `json:"name" db:"name"`
	Status          string      `json:"status" db:"status"`
	Location        Location    `json:"location"`
	FirmwareVersion string      `json:"firmware_version" db:"firmware_version"`
	Health          Health      `json:"health"`
	Performance     Performance `json:"performance"`
	LastSeen        time.Time   `json:"last_seen" db:"last_seen"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// IsOnline 在线状态为派生属性：不落库，读取时按 lastSeen 计算
func (r *Robot) IsOnline(now time.Time) bool {
	return now.Sub(r.LastSeen) < OnlineWindow
}

// IsValidStatus 检查状态是否合法
func IsValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusIdle, StatusMaintenance, StatusError, StatusOffline, StatusDecommissioned:
		return true
	}
	return false
}

// FleetStats 机群统计
type FleetStats struct {
	Total       int            `json:"total"`
	Online      int            `json:"online"`
	ByStatus    map[string]int `json:"by_status"`
	ByModel     map[string]int `json:"by_model"`
	GeneratedAt time.Time      `json:"generated_at"`
}
