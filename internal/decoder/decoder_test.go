package decoder

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FullPayload(t *testing.T) {
	payload := []byte(`{
		"battery": 87.5,
		"temperature": 42.0,
		"motorHealth": 91,
		"coordinates": {"x": 1.5, "y": -2.0, "z": 0},
		"speed": 1.2,
		"tasksCompleted": 3,
		"efficiency": 96,
		"errors": []
	}`)

	receivedAt := time.Now()
	record, err := Decode("R-100", payload, receivedAt)

	require.NoError(t, err)
	assert.Equal(t, "R-100", record.RobotID)
	require.NotNil(t, record.Battery)
	assert.Equal(t, 87.5, *record.Battery)
	require.NotNil(t, record.Temperature)
	assert.Equal(t, 42.0, *record.Temperature)
	require.NotNil(t, record.MotorHealth)
	assert.Equal(t, 91.0, *record.MotorHealth)
	require.NotNil(t, record.Coordinates)
	assert.Equal(t, 1.5, record.Coordinates.X)
	require.NotNil(t, record.TasksDelta)
	assert.Equal(t, int64(3), *record.TasksDelta)
	assert.Equal(t, receivedAt, record.ReceivedAt)
}

func TestDecode_PartialPayload(t *testing.T) {
	// 部分更新语义：缺省字段保持为 nil，不参与合并
	payload := []byte(`{"battery": 55}`)

	record, err := Decode("R-100", payload, time.Now())

	require.NoError(t, err)
	require.NotNil(t, record.Battery)
	assert.Equal(t, 55.0, *record.Battery)
	assert.Nil(t, record.Temperature)
	assert.Nil(t, record.MotorHealth)
	assert.Nil(t, record.Coordinates)
	assert.Nil(t, record.Speed)
	assert.Nil(t, record.TasksDelta)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode("R-100", []byte(`{battery: not json`), time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecode_OutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"battery above 100", `{"battery": 120}`},
		{"battery below 0", `{"battery": -1}`},
		{"temperature above max", `{"temperature": 200}`},
		{"temperature below min", `{"temperature": -80}`},
		{"motor health above 100", `{"motorHealth": 101}`},
		{"efficiency above 100", `{"efficiency": 150}`},
		{"negative speed", `{"speed": -3}`},
		{"negative tasks delta", `{"tasksCompleted": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("R-100", []byte(tt.payload), time.Now())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestDecode_InRangeNeverRejected(t *testing.T) {
	// 域内的电量和温度组合永远不触发校验错误，且解码值等于载荷值
	batteries := []float64{0, 5, 19.9, 20, 50, 100}
	temperatures := []float64{-50, 0, 69.9, 70.1, 150}

	for _, battery := range batteries {
		for _, temperature := range temperatures {
			payload := []byte(fmt.Sprintf(`{"battery": %f, "temperature": %f}`, battery, temperature))

			record, err := Decode("R-100", payload, time.Now())

			require.NoError(t, err)
			assert.Equal(t, battery, *record.Battery)
			assert.Equal(t, temperature, *record.Temperature)
		}
	}
}
