package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, Level("DEBUG"))
	assert.Equal(t, zap.WarnLevel, Level("warn"))
	assert.Equal(t, zap.ErrorLevel, Level(" error "))
	assert.Equal(t, zap.InfoLevel, Level("info"))
	assert.Equal(t, zap.InfoLevel, Level("verbose"))
}

func TestNewHonoursLevel(t *testing.T) {
	l := New("warn")
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}
