package websocket

import (
	"os"

	"go.uber.org/zap"
)

// newInternalLogger is silent unless WS_LOG=1. WS_LOG_FILE redirects output.
func newInternalLogger() *zap.Logger {
	if os.Getenv("WS_LOG") != "1" {
		return zap.NewNop()
	}

	cfg := zap.NewDevelopmentConfig()
	if f := os.Getenv("WS_LOG_FILE"); f != "" {
		cfg.OutputPaths = []string{f}
	}

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}
