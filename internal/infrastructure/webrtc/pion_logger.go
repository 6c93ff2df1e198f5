package webrtc

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// zapLoggerFactory routes pion's internal logging into zap, one named logger
// per pion scope (ice, dtls, sctp, ...).
type zapLoggerFactory struct {
	logger *zap.SugaredLogger
}

func newZapLoggerFactory(logger *zap.SugaredLogger) logging.LoggerFactory {
	return &zapLoggerFactory{logger: logger.Named("pion")}
}

func (f *zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveledLogger{logger: f.logger.Named(scope)}
}

type zapLeveledLogger struct {
	logger *zap.SugaredLogger
}

// Trace maps to debug; zap has no finer level.
func (l *zapLeveledLogger) Trace(msg string)                          { l.logger.Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *zapLeveledLogger) Debug(msg string)                          { l.logger.Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...interface{}) { l.logger.Debugf(format, args...) }
func (l *zapLeveledLogger) Info(msg string)                           { l.logger.Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...interface{})  { l.logger.Infof(format, args...) }
func (l *zapLeveledLogger) Warn(msg string)                           { l.logger.Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...interface{})  { l.logger.Warnf(format, args...) }
func (l *zapLeveledLogger) Error(msg string)                          { l.logger.Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) { l.logger.Errorf(format, args...) }
