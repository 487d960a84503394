package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			require.NoError(t, Init(tt.level))

			assert.True(t, Logger().Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, Logger().Core().Enabled(tt.want-1))
			}
		})
	}
}
