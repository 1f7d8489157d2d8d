package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fleet-core/internal/models"

	"go.uber.org/zap"
)

// ErrAlertNotFound 报警不存在
var ErrAlertNotFound = errors.New("alert not found")

// AlertRepository 报警事件仓库
// 报警只追加和状态流转，从不删除：已解决的报警保留为历史记录
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警事件仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
			alert_id,
			robot_id,
			type,
			severity,
			status,
			message,
			triggered_at,
			acknowledged_at,
			acknowledged_by,
			resolved_at,
			resolved_by,
			actions,
			created_at,
			updated_at`

// FindActive 查找 (robot_id, type) 的活跃报警
// 去重不变式的依据：同一 (robot_id, type) 至多一条 active 报警
func (r *AlertRepository) FindActive(ctx context.Context, robotID, alertType string) (*models.Alert, error) {
	if robotID == "" {
		return nil, fmt.Errorf("robot_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("type is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE robot_id = $1
		  AND type = $2
		  AND status = 'active'
		ORDER BY triggered_at DESC
		LIMIT 1
	`

	alert, err := r.scanAlert(r.db.QueryRowContext(ctx, query, robotID, alertType))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: robot_id=%s type=%s", ErrAlertNotFound, robotID, alertType)
		}
		return nil, fmt.Errorf("failed to find active alert: %w", err)
	}

	return alert, nil
}

// GetByID 根据 alert_id 获取报警
func (r *AlertRepository) GetByID(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE alert_id = $1
	`

	alert, err := r.scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: alert_id=%s", ErrAlertNotFound, alertID)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// Create 创建报警
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	actions, err := json.Marshal(alert.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			robot_id,
			type,
			severity,
			status,
			message,
			triggered_at,
			acknowledged_at,
			acknowledged_by,
			resolved_at,
			resolved_by,
			actions,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.RobotID,
		alert.Type,
		alert.Severity,
		alert.Status,
		alert.Message,
		alert.TriggeredAt,
		alert.AcknowledgedAt,
		alert.AcknowledgedBy,
		alert.ResolvedAt,
		alert.ResolvedBy,
		actions,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// Update 更新报警（状态流转和动作追加后整体回写）
func (r *AlertRepository) Update(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	actions, err := json.Marshal(alert.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		UPDATE alerts
		SET severity = $2,
		    status = $3,
		    message = $4,
		    acknowledged_at = $5,
		    acknowledged_by = $6,
		    resolved_at = $7,
		    resolved_by = $8,
		    actions = $9,
		    updated_at = NOW()
		WHERE alert_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.Severity,
		alert.Status,
		alert.Message,
		alert.AcknowledgedAt,
		alert.AcknowledgedBy,
		alert.ResolvedAt,
		alert.ResolvedBy,
		actions,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: alert_id=%s", ErrAlertNotFound, alert.AlertID)
	}

	return nil
}

// ListByRobot 查询机器人的报警列表（status 为空则不过滤）
func (r *AlertRepository) ListByRobot(ctx context.Context, robotID, status string, limit int) ([]*models.Alert, error) {
	if robotID == "" {
		return nil, fmt.Errorf("robot_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE robot_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY triggered_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, robotID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := r.scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

// scanAlert 扫描单行报警记录，处理可空字段和 JSONB 动作列表
func (r *AlertRepository) scanAlert(row scanner) (*models.Alert, error) {
	var alert models.Alert
	var acknowledgedAt, resolvedAt sql.NullTime
	var acknowledgedBy, resolvedBy sql.NullString
	var actions []byte

	err := row.Scan(
		&alert.AlertID,
		&alert.RobotID,
		&alert.Type,
		&alert.Severity,
		&alert.Status,
		&alert.Message,
		&alert.TriggeredAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
		&resolvedBy,
		&actions,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = &acknowledgedBy.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = &resolvedBy.String
	}

	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &alert.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	if alert.Actions == nil {
		alert.Actions = []models.AlertAction{}
	}

	return &alert, nil
}
