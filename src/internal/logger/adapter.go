package logger

import (
	"go.uber.org/zap"
)

type ZapToAntsLogger struct {
	logger *zap.SugaredLogger
}

func NewZapToAntsLogger(zl *zap.Logger) *ZapToAntsLogger {
	return &ZapToAntsLogger{logger: zl.Sugar()}
}

func (l *ZapToAntsLogger) Printf(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

type ZapToFfmpegWriter struct {
	logger   *zap.Logger
	cameraId string
}

func NewZapToFfmpegWriter(zl *zap.Logger, cameraId string) *ZapToFfmpegWriter {
	return &ZapToFfmpegWriter{logger: zl, cameraId: cameraId}
}

// Write forwards ffmpeg stderr lines at debug level.
func (w *ZapToFfmpegWriter) Write(p []byte) (int, error) {
	w.logger.Debug("ffmpeg",
		zap.String("cameraId", w.cameraId),
		zap.ByteString("output", p))
	return len(p), nil
}
