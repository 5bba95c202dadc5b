package logger

import (
	"go.uber.org/zap"
)

// CallFields identifies a call record in log lines without leaking the full number.
func CallFields(destination, agentID, callDate string) []zap.Field {
	return []zap.Field{
		MaskPhoneIfPresent("to", destination),
		zap.String("agent_id", agentID),
		zap.String("call_date", callDate),
	}
}
