package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-core/internal/models"

	"go.uber.org/zap"
)

// ErrRobotNotFound 机器人不存在
// 遥测路径收到该错误时丢弃消息（注册可能尚未完成），命令路径上抛给调用方
var ErrRobotNotFound = errors.New("robot not found")

// RobotRepository 机器人注册表仓库
type RobotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRobotRepository 创建机器人注册表仓库
func NewRobotRepository(db *sql.DB, logger *zap.Logger) *RobotRepository {
	return &RobotRepository{
		db:     db,
		logger: logger,
	}
}

const robotColumns = `
			serial_number,
			model,
			name,
			status,
			facility,
			zone,
			coord_x,
			coord_y,
			coord_z,
			firmware_version,
			battery,
			temperature,
			motor_health,
			uptime_hours,
			tasks_completed,
			efficiency,
			last_seen,
			created_at,
			updated_at`

// GetBySerialNumber 根据序列号获取机器人
func (r *RobotRepository) GetBySerialNumber(ctx context.Context, serialNumber string) (*models.Robot, error) {
	if serialNumber == "" {
		return nil, fmt.Errorf("serial_number is required")
	}

	query := `
		SELECT ` + robotColumns + `
		FROM robots
		WHERE serial_number = $1
	`

	robot, err := r.scanRobot(r.db.QueryRowContext(ctx, query, serialNumber))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: serial_number=%s", ErrRobotNotFound, serialNumber)
		}
		return nil, fmt.Errorf("failed to get robot: %w", err)
	}

	return robot, nil
}

// UpdateTelemetry 持久化遥测合并结果（按序列号幂等写入）
// 只写遥测路径允许变更的字段：健康指标、坐标、性能计数、last_seen
func (r *RobotRepository) UpdateTelemetry(ctx context.Context, robot *models.Robot) error {
	if robot == nil {
		return fmt.Errorf("robot is required")
	}

	query := `
		UPDATE robots
		SET battery = $2,
		    temperature = $3,
		    motor_health = $4,
		    coord_x = $5,
		    coord_y = $6,
		    coord_z = $7,
		    uptime_hours = $8,
		    tasks_completed = $9,
		    efficiency = $10,
		    status = $11,
		    last_seen = $12,
		    updated_at = NOW()
		WHERE serial_number = $1
	`

	var x, y, z sql.NullFloat64
	if robot.Location.Coordinates != nil {
		x = sql.NullFloat64{Float64: robot.Location.Coordinates.X, Valid: true}
		y = sql.NullFloat64{Float64: robot.Location.Coordinates.Y, Valid: true}
		z = sql.NullFloat64{Float64: robot.Location.Coordinates.Z, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		robot.SerialNumber,
		robot.Health.Battery,
		robot.Health.Temperature,
		robot.Health.MotorHealth,
		x, y, z,
		robot.Performance.Uptime,
		robot.Performance.TasksCompleted,
		robot.Performance.Efficiency,
		robot.Status,
		robot.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to update robot telemetry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: serial_number=%s", ErrRobotNotFound, robot.SerialNumber)
	}

	return nil
}

// UpdateStatus 更新机器人状态（维护开始/结束、退役等显式状态流转）
func (r *RobotRepository) UpdateStatus(ctx context.Context, serialNumber, status string) error {
	if serialNumber == "" {
		return fmt.Errorf("serial_number is required")
	}
	if !models.IsValidStatus(status) {
		return fmt.Errorf("invalid status: %s", status)
	}

	query := `
		UPDATE robots
		SET status = $2, updated_at = NOW()
		WHERE serial_number = $1
	`

	result, err := r.db.ExecContext(ctx, query, serialNumber, status)
	if err != nil {
		return fmt.Errorf("failed to update robot status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: serial_number=%s", ErrRobotNotFound, serialNumber)
	}

	return nil
}

// UpdateMotorHealth 更新电机健康度（维护结束后复位为100）
func (r *RobotRepository) UpdateMotorHealth(ctx context.Context, serialNumber string, motorHealth float64) error {
	query := `
		UPDATE robots
		SET motor_health = $2, updated_at = NOW()
		WHERE serial_number = $1
	`

	result, err := r.db.ExecContext(ctx, query, serialNumber, motorHealth)
	if err != nil {
		return fmt.Errorf("failed to update motor health: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: serial_number=%s", ErrRobotNotFound, serialNumber)
	}

	return nil
}

// ListStale 查询 last_seen 早于 cutoff 且尚未标记离线的机器人
// 离线扫描用：维护中和已退役的机器人不参与在线判定
func (r *RobotRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Robot, error) {
	query := `
		SELECT ` + robotColumns + `
		FROM robots
		WHERE last_seen < $1
		  AND status NOT IN ('offline', 'maintenance', 'decommissioned')
		ORDER BY last_seen ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale robots: %w", err)
	}
	defer rows.Close()

	var robots []*models.Robot
	for rows.Next() {
		robot, err := r.scanRobot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan robot: %w", err)
		}
		robots = append(robots, robot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale robots: %w", err)
	}

	return robots, nil
}

// FleetStats 机群统计：按状态、按型号的数量分布，以及在线数
func (r *RobotRepository) FleetStats(ctx context.Context) (*models.FleetStats, error) {
	stats := &models.FleetStats{
		ByStatus:    make(map[string]int),
		ByModel:     make(map[string]int),
		GeneratedAt: time.Now(),
	}

	statusQuery := `
		SELECT status, COUNT(*)
		FROM robots
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, statusQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query status stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status stats: %w", err)
	}

	modelQuery := `
		SELECT model, COUNT(*)
		FROM robots
		GROUP BY model
	`
	modelRows, err := r.db.QueryContext(ctx, modelQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer modelRows.Close()

	for modelRows.Next() {
		var model string
		var count int
		if err := modelRows.Scan(&model, &count); err != nil {
			return nil, fmt.Errorf("failed to scan model stats: %w", err)
		}
		stats.ByModel[model] = count
	}
	if err := modelRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model stats: %w", err)
	}

	onlineQuery := `
		SELECT COUNT(*)
		FROM robots
		WHERE last_seen >= $1
	`
	onlineCutoff := time.Now().Add(-models.OnlineWindow)
	if err := r.db.QueryRowContext(ctx, onlineQuery, onlineCutoff).Scan(&stats.Online); err != nil {
		return nil, fmt.Errorf("failed to query online count: %w", err)
	}

	return stats, nil
}

// scanner 兼容 *sql.Row 和 *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRobot 扫描单行机器人记录，处理可空字段
func (r *RobotRepository) scanRobot(row scanner) (*models.Robot, error) {
	var robot models.Robot
	var zone sql.NullString
	var x, y, z sql.NullFloat64

	err := row.Scan(
		&robot.SerialNumber,
		&robot.Model,
		&robot.Name,
		&robot.Status,
		&robot.Location.Facility,
		&zone,
		&x, &y, &z,
		&robot.FirmwareVersion,
		&robot.Health.Battery,
		&robot.Health.Temperature,
		&robot.Health.MotorHealth,
		&robot.Performance.Uptime,
		&robot.Performance.TasksCompleted,
		&robot.Performance.Efficiency,
		&robot.LastSeen,
		&robot.CreatedAt,
		&robot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if zone.Valid {
		robot.Location.Zone = zone.String
	}
	if x.Valid && y.Valid && z.Valid {
		robot.Location.Coordinates = &models.Coordinates{
			X: x.Float64,
			Y: y.Float64,
			Z: z.Float64,
		}
	}

	return &robot, nil
}
