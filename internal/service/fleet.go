package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleet-core/internal/alerts"
	"fleet-core/internal/broadcast"
	"fleet-core/internal/cache"
	"fleet-core/internal/config"
	"fleet-core/internal/decoder"
	"fleet-core/internal/dispatcher"
	fleetmqtt "fleet-core/internal/mqtt"
	"fleet-core/internal/models"
	"fleet-core/internal/notifier"
	"fleet-core/internal/reconciler"
	"fleet-core/internal/repository"
	"fleet-core/pkg/database"
	"fleet-core/pkg/mqttclient"
	"fleet-core/pkg/redisclient"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// FleetService 机群核心服务
// 负责所有组件的构建、接线和生命周期
type FleetService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttclient.Client

	robotRepo  *repository.RobotRepository
	alertRepo  *repository.AlertRepository
	realtime   *cache.RealtimeCache
	reconciler *reconciler.Reconciler
	generator  *alerts.Generator
	hub        *broadcast.Hub
	dispatcher *dispatcher.Dispatcher
	notifier   *notifier.CloudNotifier
	pool       *reconciler.WorkerPool
	consumer   *fleetmqtt.Consumer
	wsServer   *http.Server
}

// NewFleetService 创建机群核心服务
func NewFleetService(cfg *config.Config, logger *zap.Logger) (*FleetService, error) {
	// 基础设施
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisclient.NewClient(&cfg.Redis)
	if err := redisclient.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqttclient.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// Repository 与缓存
	robotRepo := repository.NewRobotRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	realtime := cache.NewRealtimeCache(redisClient, logger)

	// 核心组件
	svc := &FleetService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
		robotRepo:  robotRepo,
		alertRepo:  alertRepo,
		realtime:   realtime,
		reconciler: reconciler.NewReconciler(cfg, robotRepo, realtime, logger),
		generator:  alerts.NewGenerator(alertRepo, cfg.Fleet.RegistryTimeout, logger),
		hub:        broadcast.NewHub(logger),
		notifier:   notifier.NewCloudNotifier(cfg.Notifier.Endpoint, cfg.Notifier.APIKey, cfg.Notifier.Enabled, logger),
		pool:       reconciler.NewWorkerPool(cfg.Fleet.Workers.PoolSize, cfg.Fleet.Workers.QueueSize, logger),
	}
	svc.dispatcher = dispatcher.NewDispatcher(cfg, robotRepo, mqttClient, logger)

	// 主题路由与消费者
	router := fleetmqtt.NewRouter(
		cfg.Fleet.TopicNamespace,
		svc.handleTelemetry,
		svc.handleRobotAlert,
		svc.handleCommandAck,
		logger,
	)
	svc.consumer = fleetmqtt.NewConsumer(cfg, mqttClient, router, logger)

	// WebSocket 接入点
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", broadcast.ServeWS(svc.hub, cfg.Broadcast.SendBuffer, cfg.Broadcast.MaxMessageSize, logger))
	svc.wsServer = &http.Server{
		Addr:    cfg.Broadcast.ListenAddr,
		Handler: mux,
	}

	return svc, nil
}

// Dispatcher 暴露命令下发器（供外部API层调用）
func (s *FleetService) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Reconciler 暴露调和器（供外部API层做显式状态流转）
func (s *FleetService) Reconciler() *reconciler.Reconciler {
	return s.reconciler
}

// Generator 暴露报警生成器（供外部API层做确认/解决/升级）
func (s *FleetService) Generator() *alerts.Generator {
	return s.generator
}

// Start 启动服务（阻塞直到上下文取消）
func (s *FleetService) Start(ctx context.Context) error {
	s.logger.Info("Starting fleet core service")

	s.pool.Start(ctx)
	go s.dispatcher.RunSweep(ctx)
	go s.offlineScanLoop(ctx)

	go func() {
		s.logger.Info("WebSocket endpoint listening",
			zap.String("addr", s.config.Broadcast.ListenAddr),
		)
		if err := s.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", zap.Error(err))
		}
	}()

	// 消费者阻塞到上下文取消
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	return nil
}

// Stop 停止服务并释放资源
func (s *FleetService) Stop() {
	s.logger.Info("Stopping fleet core service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.consumer != nil {
		s.consumer.Stop(shutdownCtx)
	}
	if s.wsServer != nil {
		s.wsServer.Shutdown(shutdownCtx)
	}
	if s.pool != nil {
		s.pool.Wait()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		redisclient.Close(s.redis)
	}
	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Fleet core service stopped")
}

// handleTelemetry 遥测通道处理
// 解码在总线回调上同步完成（纯CPU），其余交给按机器人分片的
// 工作池异步执行，慢的下游不会阻塞下一条消息的摄取
func (s *FleetService) handleTelemetry(robotID string, payload []byte) error {
	record, err := decoder.Decode(robotID, payload, time.Now())
	if err != nil {
		// 解码/校验失败对单条消息是终态：丢弃，下一条会取代它
		return err
	}

	s.pool.Submit(robotID, func() {
		s.applyTelemetry(record)
	})
	return nil
}

// applyTelemetry 工作分片内的遥测处理：调和、报警、推送
func (s *FleetService) applyTelemetry(record *models.Telemetry) {
	ctx := context.Background()

	robot, conditions, err := s.reconciler.ApplyTelemetry(ctx, record)
	if err != nil {
		if errors.Is(err, repository.ErrRobotNotFound) {
			// 注册尚未完成的机器人可能先行上报，丢弃本条等注册完成
			s.logger.Warn("Telemetry for unknown robot dropped",
				zap.String("robot_id", record.RobotID),
			)
			return
		}
		s.logger.Error("Failed to apply telemetry",
			zap.String("robot_id", record.RobotID),
			zap.Error(err),
		)
		return
	}

	// 先推遥测更新，再推本次更新产生的报警（同一分片内保持顺序）
	if data, err := json.Marshal(robot); err == nil {
		s.hub.Publish(models.Event{
			Type:      models.EventTelemetryUpdate,
			RobotID:   robot.SerialNumber,
			Data:      data,
			Timestamp: record.ReceivedAt,
		})
	}

	s.raiseConditions(ctx, conditions)
}

// handleRobotAlert 报警通道处理（机器人自报的事件）
func (s *FleetService) handleRobotAlert(robotID string, payload []byte) error {
	var raw struct {
		Type     string `json:"type"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("%w: %v", decoder.ErrDecode, err)
	}
	if raw.Type == "" {
		return fmt.Errorf("%w: alert message missing type", decoder.ErrValidation)
	}
	if models.SeverityRank(raw.Severity) == 0 {
		raw.Severity = models.SeverityWarning
	}

	condition := models.Condition{
		RobotID:  robotID,
		Type:     raw.Type,
		Severity: raw.Severity,
		Message:  raw.Message,
	}

	s.pool.Submit(robotID, func() {
		s.raiseConditions(context.Background(), []models.Condition{condition})
	})
	return nil
}

// handleCommandAck 命令回执通道处理
func (s *FleetService) handleCommandAck(robotID string, payload []byte) error {
	return s.dispatcher.HandleAck(robotID, payload)
}

// raiseConditions 把条件集合交给报警生成器，变更推送给订阅者和云端
func (s *FleetService) raiseConditions(ctx context.Context, conditions []models.Condition) {
	for _, condition := range conditions {
		alert, err := s.generator.Raise(ctx, condition)
		if err != nil {
			s.logger.Error("Failed to raise alert",
				zap.String("robot_id", condition.RobotID),
				zap.String("type", condition.Type),
				zap.Error(err),
			)
			continue
		}
		if alert == nil {
			continue
		}

		if data, err := json.Marshal(alert); err == nil {
			s.hub.Publish(models.Event{
				Type:      models.EventAlert,
				RobotID:   alert.RobotID,
				Data:      data,
				Timestamp: alert.UpdatedAt,
			})
		}
		s.notifier.NotifyAlert(alert)
	}
}

// offlineScanLoop 离线扫描循环：过期机器人置为 offline 并产出 connection_lost
func (s *FleetService) offlineScanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Fleet.OfflineScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conditions, err := s.reconciler.ScanOffline(ctx)
			if err != nil {
				s.logger.Error("Offline scan failed", zap.Error(err))
				continue
			}
			// 逐机器人走各自的分片，保持与遥测事件的顺序一致
			for _, condition := range conditions {
				c := condition
				s.pool.Submit(c.RobotID, func() {
					s.raiseConditions(context.Background(), []models.Condition{c})
				})
			}
		}
	}
}
