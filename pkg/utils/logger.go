package utils

import "go.uber.org/zap"

// NewLogger builds the process logger. Debug mode selects zap's development
// config (console encoder, debug level); otherwise the production config
// (JSON, info level) is used.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
