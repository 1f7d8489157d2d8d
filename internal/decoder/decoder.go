package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-core/internal/models"
)

// 遥测解码错误（对单条消息终态：记录日志后丢弃，不重试）
var (
	ErrDecode     = errors.New("telemetry decode error")
	ErrValidation = errors.New("telemetry validation error")
)

// 数值域边界
// 超出范围的值直接拒绝而不截断，避免把坏数据写进健康状态
const (
	batteryMin     = 0
	batteryMax     = 100
	temperatureMin = -50
	temperatureMax = 150
	motorHealthMin = 0
	motorHealthMax = 100
	efficiencyMin  = 0
	efficiencyMax  = 100
)

// rawTelemetry MQTT遥测载荷的原始结构
type rawTelemetry struct {
	Battery     *float64            `json:"battery"`
	Temperature *float64            `json:"temperature"`
	MotorHealth *float64            `json:"motorHealth"`
	Coordinates *models.Coordinates `json:"coordinates"`
	Speed       *float64            `json:"speed"`
	TasksDelta  *int64              `json:"tasksCompleted"`
	Efficiency  *float64            `json:"efficiency"`
	Errors      []string            `json:"errors"`
}

// Decode 解析并校验单条遥测载荷
// robotID 来自主题段；receivedAt 为到达时间，写入记录
func Decode(robotID string, payload []byte, receivedAt time.Time) (*models.Telemetry, error) {
	var raw rawTelemetry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if err := validate(&raw); err != nil {
		return nil, err
	}

	return &models.Telemetry{
		RobotID:     robotID,
		Battery:     raw.Battery,
		Temperature: raw.Temperature,
		MotorHealth: raw.MotorHealth,
		Coordinates: raw.Coordinates,
		Speed:       raw.Speed,
		TasksDelta:  raw.TasksDelta,
		Efficiency:  raw.Efficiency,
		Errors:      raw.Errors,
		ReceivedAt:  receivedAt,
	}, nil
}

// validate 逐字段域校验
func validate(raw *rawTelemetry) error {
	if raw.Battery != nil && (*raw.Battery < batteryMin || *raw.Battery > batteryMax) {
		return fmt.Errorf("%w: battery %.2f out of range [%d,%d]",
			ErrValidation, *raw.Battery, batteryMin, batteryMax)
	}
	if raw.Temperature != nil && (*raw.Temperature < temperatureMin || *raw.Temperature > temperatureMax) {
		return fmt.Errorf("%w: temperature %.2f out of range [%d,%d]",
			ErrValidation, *raw.Temperature, temperatureMin, temperatureMax)
	}
	if raw.MotorHealth != nil && (*raw.MotorHealth < motorHealthMin || *raw.MotorHealth > motorHealthMax) {
		return fmt.Errorf("%w: motorHealth %.2f out of range [%d,%d]",
			ErrValidation, *raw.MotorHealth, motorHealthMin, motorHealthMax)
	}
	if raw.Efficiency != nil && (*raw.Efficiency < efficiencyMin || *raw.Efficiency > efficiencyMax) {
		return fmt.Errorf("%w: efficiency %.2f out of range [%d,%d]",
			ErrValidation, *raw.Efficiency, efficiencyMin, efficiencyMax)
	}
	if raw.Speed != nil && *raw.Speed < 0 {
		return fmt.Errorf("%w: speed %.2f must be non-negative", ErrValidation, *raw.Speed)
	}
	if raw.TasksDelta != nil && *raw.TasksDelta < 0 {
		return fmt.Errorf("%w: tasksCompleted delta %d must be non-negative", ErrValidation, *raw.TasksDelta)
	}
	return nil
}
