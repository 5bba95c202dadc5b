package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestCallFieldsMasksDestination(t *testing.T) {
	fields := CallFields("+6598765432", "agent_1", "2024-05-01")
	assert.Len(t, fields, 3)
	assert.Equal(t, "to", fields[0].Key)
	assert.NotContains(t, fields[0].String, "987654")
	assert.Contains(t, fields[0].String, "5432")
}
