package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsOnline(t *testing.T) {
	now := time.Now()

	robot := &Robot{LastSeen: now.Add(-time.Minute)}
	assert.True(t, robot.IsOnline(now))

	robot.LastSeen = now.Add(-OnlineWindow)
	assert.False(t, robot.IsOnline(now))

	robot.LastSeen = now.Add(-OnlineWindow + time.Second)
	assert.True(t, robot.IsOnline(now))
}

func TestIsValidStatus(t *testing.T) {
	for _, status := range []string{
		StatusActive, StatusIdle, StatusMaintenance,
		StatusError, StatusOffline, StatusDecommissioned,
	} {
		assert.True(t, IsValidStatus(status), status)
	}
	assert.False(t, IsValidStatus("sleeping"))
	assert.False(t, IsValidStatus(""))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityRank(SeverityInfo), SeverityRank(SeverityWarning))
	assert.Less(t, SeverityRank(SeverityWarning), SeverityRank(SeverityError))
	assert.Less(t, SeverityRank(SeverityError), SeverityRank(SeverityCritical))
	// 未知级别排在所有已知级别之前
	assert.Equal(t, 0, SeverityRank("bogus"))
}
