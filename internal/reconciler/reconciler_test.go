package reconciler

import (
	"context"
	"testing"
	"time"

	"fleet-core/internal/config"
	"fleet-core/internal/models"
	"fleet-core/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRegistry 内存注册表（测试替身）
type fakeRegistry struct {
	robots      map[string]*models.Robot
	updateCalls int
	failWrites  int // 前 N 次写入返回错误
}

func newFakeRegistry(robots ...*models.Robot) *fakeRegistry {
	m := make(map[string]*models.Robot)
	for _, r := range robots {
		m[r.SerialNumber] = r
	}
	return &fakeRegistry{robots: m}
}

func (f *fakeRegistry) GetBySerialNumber(ctx context.Context, serialNumber string) (*models.Robot, error) {
	robot, ok := f.robots[serialNumber]
	if !ok {
		return nil, repository.ErrRobotNotFound
	}
	copied := *robot
	return &copied, nil
}

func (f *fakeRegistry) UpdateTelemetry(ctx context.Context, robot *models.Robot) error {
	f.updateCalls++
	if f.failWrites > 0 {
		f.failWrites--
		return context.DeadlineExceeded
	}
	copied := *robot
	f.robots[robot.SerialNumber] = &copied
	return nil
}

func (f *fakeRegistry) UpdateStatus(ctx context.Context, serialNumber, status string) error {
	robot, ok := f.robots[serialNumber]
	if !ok {
		return repository.ErrRobotNotFound
	}
	robot.Status = status
	return nil
}

func (f *fakeRegistry) UpdateMotorHealth(ctx context.Context, serialNumber string, motorHealth float64) error {
	robot, ok := f.robots[serialNumber]
	if !ok {
		return repository.ErrRobotNotFound
	}
	robot.Health.MotorHealth = motorHealth
	return nil
}

func (f *fakeRegistry) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Robot, error) {
	var stale []*models.Robot
	for _, robot := range f.robots {
		switch robot.Status {
		case models.StatusOffline, models.StatusMaintenance, models.StatusDecommissioned:
			continue
		}
		if robot.LastSeen.Before(cutoff) {
			copied := *robot
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

// fakeSnapshots 快照写入替身
type fakeSnapshots struct {
	snapshots []*models.Robot
	appended  []*models.Telemetry
}

func (f *fakeSnapshots) SetSnapshot(ctx context.Context, robot *models.Robot) error {
	copied := *robot
	f.snapshots = append(f.snapshots, &copied)
	return nil
}

func (f *fakeSnapshots) AppendTelemetry(ctx context.Context, record *models.Telemetry) (string, error) {
	f.appended = append(f.appended, record)
	return "1-0", nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Fleet.Thresholds.BatteryLow = 20
	cfg.Fleet.Thresholds.BatteryCritical = 5
	cfg.Fleet.Thresholds.TemperatureHigh = 70
	cfg.Fleet.Thresholds.MotorHealthFloor = 30
	cfg.Fleet.RegistryTimeout = time.Second
	cfg.Fleet.RegistryRetries = 2
	cfg.Fleet.RegistryRetryDelay = time.Millisecond
	return cfg
}

func testRobot(serial string) *models.Robot {
	return &models.Robot{
		SerialNumber: serial,
		Model:        models.ModelGMW100,
		Name:         "Robot-" + serial,
		Status:       models.StatusActive,
		Location:     models.Location{Facility: "plant-1"},
		Health: models.Health{
			Battery:     100,
			Temperature: 25,
			MotorHealth: 100,
		},
		Performance: models.Performance{Efficiency: 100},
		LastSeen:    time.Now(),
	}
}

func floatPtr(f float64) *float64 { return &f }
func int64Ptr(n int64) *int64     { return &n }

func setupReconciler(robots ...*models.Robot) (*Reconciler, *fakeRegistry, *fakeSnapshots) {
	registry := newFakeRegistry(robots...)
	snapshots := &fakeSnapshots{}
	r := NewReconciler(testConfig(), registry, snapshots, zap.NewNop())
	return r, registry, snapshots
}

func TestApplyTelemetry_PartialMerge(t *testing.T) {
	robot := testRobot("R-100")
	robot.Health.Temperature = 40
	r, registry, snapshots := setupReconciler(robot)

	now := time.Now()
	record := &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(62),
		TasksDelta: int64Ptr(4),
		ReceivedAt: now,
	}

	updated, conditions, err := r.ApplyTelemetry(context.Background(), record)

	require.NoError(t, err)
	assert.Empty(t, conditions)
	// 携带的字段被合并
	assert.Equal(t, 62.0, updated.Health.Battery)
	assert.Equal(t, int64(4), updated.Performance.TasksCompleted)
	// 缺省字段保持原值
	assert.Equal(t, 40.0, updated.Health.Temperature)
	assert.Equal(t, 100.0, updated.Health.MotorHealth)
	assert.Equal(t, now, updated.LastSeen)

	// 持久化与快照均已写入
	assert.Equal(t, 62.0, registry.robots["R-100"].Health.Battery)
	require.Len(t, snapshots.snapshots, 1)
	require.Len(t, snapshots.appended, 1)
}

func TestApplyTelemetry_UnknownRobot(t *testing.T) {
	r, _, _ := setupReconciler()

	_, _, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-404",
		Battery:    floatPtr(50),
		ReceivedAt: time.Now(),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrRobotNotFound)
}

func TestApplyTelemetry_BatteryCrossing(t *testing.T) {
	robot := testRobot("R-100")
	robot.Health.Battery = 25
	r, _, _ := setupReconciler(robot)

	_, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(18),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, models.AlertBatteryLow, conditions[0].Type)
	assert.Equal(t, models.SeverityWarning, conditions[0].Severity)
}

func TestApplyTelemetry_NoRetriggerWhileLow(t *testing.T) {
	// 已在阈值以下继续下降（未穿越临界线）不重复触发
	robot := testRobot("R-100")
	robot.Health.Battery = 18
	r, _, _ := setupReconciler(robot)

	_, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(15),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	assert.Empty(t, conditions)
}

func TestApplyTelemetry_CriticalCrossing(t *testing.T) {
	robot := testRobot("R-100")
	robot.Health.Battery = 15
	r, _, _ := setupReconciler(robot)

	_, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(3),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, models.AlertBatteryLow, conditions[0].Type)
	assert.Equal(t, models.SeverityCritical, conditions[0].Severity)
}

func TestApplyTelemetry_DoubleCrossingReportsCriticalOnly(t *testing.T) {
	// 一次更新同时穿过告警线和临界线时只报更严重的一条
	robot := testRobot("R-100")
	robot.Health.Battery = 50
	r, _, _ := setupReconciler(robot)

	_, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(2),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, models.SeverityCritical, conditions[0].Severity)
}

func TestApplyTelemetry_TemperatureAndMotorCrossings(t *testing.T) {
	robot := testRobot("R-100")
	robot.Health.Temperature = 60
	robot.Health.MotorHealth = 45
	r, _, _ := setupReconciler(robot)

	_, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:     "R-100",
		Temperature: floatPtr(82),
		MotorHealth: floatPtr(20),
		ReceivedAt:  time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, conditions, 2)

	byType := map[string]models.Condition{}
	for _, c := range conditions {
		byType[c.Type] = c
	}
	assert.Equal(t, models.SeverityError, byType[models.AlertTemperatureHigh].Severity)
	assert.Equal(t, models.SeverityCritical, byType[models.AlertMotorFailure].Severity)
}

func TestApplyTelemetry_Reconnect(t *testing.T) {
	robot := testRobot("R-100")
	robot.Status = models.StatusOffline
	robot.LastSeen = time.Now().Add(-10 * time.Minute)
	r, registry, _ := setupReconciler(robot)

	updated, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(80),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, models.AlertConnectionLost, conditions[0].Type)
	assert.Equal(t, models.SeverityInfo, conditions[0].Severity)
	assert.Equal(t, models.StatusIdle, updated.Status)
	assert.Equal(t, models.StatusIdle, registry.robots["R-100"].Status)
}

func TestApplyTelemetry_CollisionError(t *testing.T) {
	robot := testRobot("R-100")
	r, _, _ := setupReconciler(robot)

	updated, conditions, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Errors:     []string{"collision with obstacle in zone B"},
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, models.AlertCollisionDetected, conditions[0].Type)
	assert.Equal(t, models.StatusError, updated.Status)
}

func TestApplyTelemetry_RetriesRegistryWrite(t *testing.T) {
	robot := testRobot("R-100")
	registry := newFakeRegistry(robot)
	registry.failWrites = 2
	r := NewReconciler(testConfig(), registry, &fakeSnapshots{}, zap.NewNop())

	_, _, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(70),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, registry.updateCalls)
}

// stuckSnapshots 模拟挂死的缓存连接：写入阻塞到上下文取消
type stuckSnapshots struct{}

func (stuckSnapshots) SetSnapshot(ctx context.Context, robot *models.Robot) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckSnapshots) AppendTelemetry(ctx context.Context, record *models.Telemetry) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestApplyTelemetry_SlowCacheDoesNotBlock(t *testing.T) {
	// 缓存挂死时遥测应用仍须在超时内完成并成功返回，
	// 快照写入失败只降级为日志
	robot := testRobot("R-100")
	registry := newFakeRegistry(robot)

	cfg := testConfig()
	cfg.Fleet.RegistryTimeout = 50 * time.Millisecond
	r := NewReconciler(cfg, registry, stuckSnapshots{}, zap.NewNop())

	start := time.Now()
	updated, _, err := r.ApplyTelemetry(context.Background(), &models.Telemetry{
		RobotID:    "R-100",
		Battery:    floatPtr(70),
		ReceivedAt: time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, 70.0, updated.Health.Battery)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 70.0, registry.robots["R-100"].Health.Battery)
}

func TestScanOffline(t *testing.T) {
	stale := testRobot("R-100")
	stale.LastSeen = time.Now().Add(-10 * time.Minute)
	fresh := testRobot("R-200")
	inMaintenance := testRobot("R-300")
	inMaintenance.Status = models.StatusMaintenance
	inMaintenance.LastSeen = time.Now().Add(-time.Hour)

	r, registry, _ := setupReconciler(stale, fresh, inMaintenance)

	conditions, err := r.ScanOffline(context.Background())

	require.NoError(t, err)
	require.Len(t, conditions, 1)
	assert.Equal(t, "R-100", conditions[0].RobotID)
	assert.Equal(t, models.AlertConnectionLost, conditions[0].Type)
	assert.Equal(t, models.SeverityError, conditions[0].Severity)
	assert.Equal(t, models.StatusOffline, registry.robots["R-100"].Status)
	assert.Equal(t, models.StatusActive, registry.robots["R-200"].Status)
	assert.Equal(t, models.StatusMaintenance, registry.robots["R-300"].Status)
}

func TestMaintenanceTransitions(t *testing.T) {
	robot := testRobot("R-100")
	robot.Health.MotorHealth = 40
	r, registry, _ := setupReconciler(robot)

	ctx := context.Background()

	require.NoError(t, r.StartMaintenance(ctx, "R-100"))
	assert.Equal(t, models.StatusMaintenance, registry.robots["R-100"].Status)

	require.NoError(t, r.EndMaintenance(ctx, "R-100"))
	assert.Equal(t, models.StatusIdle, registry.robots["R-100"].Status)
	assert.Equal(t, 100.0, registry.robots["R-100"].Health.MotorHealth)
}

func TestDecommissionIsTerminal(t *testing.T) {
	robot := testRobot("R-100")
	r, registry, _ := setupReconciler(robot)

	ctx := context.Background()

	require.NoError(t, r.Decommission(ctx, "R-100"))
	assert.Equal(t, models.StatusDecommissioned, registry.robots["R-100"].Status)

	// 终态之后拒绝任何状态流转
	err := r.StartMaintenance(ctx, "R-100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decommissioned")
}
