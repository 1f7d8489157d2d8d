package config

import (
	"os"
	"strconv"
	"time"

	"fleet-core/pkg/database"
	"fleet-core/pkg/mqttclient"
	"fleet-core/pkg/redisclient"
)

// Config 机群核心服务配置
type Config struct {
	Database database.Config
	Redis    redisclient.Config
	MQTT     mqttclient.Config

	// 机群服务特定配置
	Fleet struct {
		TopicNamespace string // MQTT主题命名空间，如 "robots"

		// 阈值表（阈值穿越判定，见 reconciler）
		Thresholds struct {
			BatteryLow       float64 // 低电量告警线（warning）
			BatteryCritical  float64 // 低电量临界线（critical）
			TemperatureHigh  float64 // 高温告警线（error）
			MotorHealthFloor float64 // 电机健康临界线（critical）
		}

		// 遥测工作池（按机器人ID分片，保证单机器人串行）
		Workers struct {
			PoolSize  int // 分片数
			QueueSize int // 每个分片的队列深度
		}

		// 命令下发
		Command struct {
			AckTimeout    time.Duration // 无回执判定超时
			SweepInterval time.Duration // 超时巡检间隔
		}

		// 离线扫描（connection_lost 报警来源）
		OfflineScanInterval time.Duration

		// 注册表写入的有界超时与重试
		RegistryTimeout    time.Duration
		RegistryRetries    int
		RegistryRetryDelay time.Duration
	}

	// 实时推送
	Broadcast struct {
		ListenAddr     string // WebSocket接入点监听地址
		SendBuffer     int    // 每个会话的发送缓冲条数，写满即判定为慢消费者
		MaxMessageSize int64
	}

	// 云端报警推送（可选）
	Notifier struct {
		Enabled  bool
		Endpoint string
		APIKey   string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 数据库
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "fleet")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	// Redis
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// MQTT
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "fleet-core")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	// 机群服务
	cfg.Fleet.TopicNamespace = getEnv("FLEET_TOPIC_NAMESPACE", "robots")
	cfg.Fleet.Thresholds.BatteryLow = getEnvFloat("FLEET_BATTERY_LOW", 20)
	cfg.Fleet.Thresholds.BatteryCritical = getEnvFloat("FLEET_BATTERY_CRITICAL", 5)
	cfg.Fleet.Thresholds.TemperatureHigh = getEnvFloat("FLEET_TEMPERATURE_HIGH", 70)
	cfg.Fleet.Thresholds.MotorHealthFloor = getEnvFloat("FLEET_MOTOR_HEALTH_FLOOR", 30)
	cfg.Fleet.Workers.PoolSize = getEnvInt("FLEET_WORKER_POOL_SIZE", 8)
	cfg.Fleet.Workers.QueueSize = getEnvInt("FLEET_WORKER_QUEUE_SIZE", 256)
	cfg.Fleet.Command.AckTimeout = getEnvDuration("FLEET_COMMAND_ACK_TIMEOUT", 30*time.Second)
	cfg.Fleet.Command.SweepInterval = getEnvDuration("FLEET_COMMAND_SWEEP_INTERVAL", 5*time.Second)
	cfg.Fleet.OfflineScanInterval = getEnvDuration("FLEET_OFFLINE_SCAN_INTERVAL", 60*time.Second)
	cfg.Fleet.RegistryTimeout = getEnvDuration("FLEET_REGISTRY_TIMEOUT", 3*time.Second)
	cfg.Fleet.RegistryRetries = getEnvInt("FLEET_REGISTRY_RETRIES", 3)
	cfg.Fleet.RegistryRetryDelay = getEnvDuration("FLEET_REGISTRY_RETRY_DELAY", 200*time.Millisecond)

	// 实时推送
	cfg.Broadcast.ListenAddr = getEnv("BROADCAST_LISTEN_ADDR", ":8081")
	cfg.Broadcast.SendBuffer = getEnvInt("BROADCAST_SEND_BUFFER", 64)
	cfg.Broadcast.MaxMessageSize = int64(getEnvInt("BROADCAST_MAX_MESSAGE_SIZE", 512))

	// 云端推送
	cfg.Notifier.Enabled = getEnvBool("NOTIFIER_ENABLED", false)
	cfg.Notifier.Endpoint = getEnv("NOTIFIER_ENDPOINT", "")
	cfg.Notifier.APIKey = getEnv("NOTIFIER_API_KEY", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
