package logger

import (
	"go.uber.org/zap"
)

// New construye el logger JSON de la aplicación con el nivel indicado
// (debug, info, warn, error). Un nivel inválido cae a info y se avisa.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"            // Logs estructurados en JSON
	cfg.EncoderConfig.TimeKey = "ts" // timestamp
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	atomic, parseErr := zap.ParseAtomicLevel(level)
	if parseErr != nil {
		atomic = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = atomic

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		log.Warn("⚠️ LOG_LEVEL inválido, usando info", zap.String("level", level))
	}
	return log, nil
}
