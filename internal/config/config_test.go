package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "fleet", cfg.Database.Database)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "robots", cfg.Fleet.TopicNamespace)
	assert.Equal(t, 20.0, cfg.Fleet.Thresholds.BatteryLow)
	assert.Equal(t, 5.0, cfg.Fleet.Thresholds.BatteryCritical)
	assert.Equal(t, 70.0, cfg.Fleet.Thresholds.TemperatureHigh)
	assert.Equal(t, 30.0, cfg.Fleet.Thresholds.MotorHealthFloor)
	assert.Equal(t, 8, cfg.Fleet.Workers.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Fleet.Command.AckTimeout)
	assert.Equal(t, 60*time.Second, cfg.Fleet.OfflineScanInterval)

	assert.Equal(t, ":8081", cfg.Broadcast.ListenAddr)
	assert.Equal(t, 64, cfg.Broadcast.SendBuffer)
	assert.False(t, cfg.Notifier.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("MQTT_BROKER", "tcp://broker.internal:1883")
	t.Setenv("FLEET_TOPIC_NAMESPACE", "fleet")
	t.Setenv("FLEET_BATTERY_LOW", "25")
	t.Setenv("FLEET_COMMAND_ACK_TIMEOUT", "45s")
	t.Setenv("FLEET_WORKER_POOL_SIZE", "16")
	t.Setenv("NOTIFIER_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "tcp://broker.internal:1883", cfg.MQTT.Broker)
	assert.Equal(t, "fleet", cfg.Fleet.TopicNamespace)
	assert.Equal(t, 25.0, cfg.Fleet.Thresholds.BatteryLow)
	assert.Equal(t, 45*time.Second, cfg.Fleet.Command.AckTimeout)
	assert.Equal(t, 16, cfg.Fleet.Workers.PoolSize)
	assert.True(t, cfg.Notifier.Enabled)
}

func TestLoad_MalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("FLEET_BATTERY_LOW", "not-a-number")
	t.Setenv("FLEET_COMMAND_ACK_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.Fleet.Thresholds.BatteryLow)
	assert.Equal(t, 30*time.Second, cfg.Fleet.Command.AckTimeout)
}
