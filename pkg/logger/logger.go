package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log = zap.NewNop()

// Init inicializa el logger global en JSON. level acepta debug, info, warn o error;
// un valor vacío o desconocido deja info.
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"            // Logs estructurados en JSON
	cfg.EncoderConfig.TimeKey = "ts" // timestamp
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.Fields(zap.String("service", "hexaevents")))
	if err != nil {
		return err
	}
	log = l
	return nil
}

// Logger retorna el logger estructurado. Antes de Init es un no-op.
func Logger() *zap.Logger {
	return log
}
