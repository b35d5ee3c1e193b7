package logger

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionLoggerFactory routes pion's internal logging into zap. Pion is chatty at
// debug and trace, so everything below warn is logged at debug.
type PionLoggerFactory struct {
	logger *zap.SugaredLogger
}

func NewPionLoggerFactory(logger *zap.SugaredLogger) *PionLoggerFactory {
	return &PionLoggerFactory{logger: logger}
}

func (f *PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.logger.With("pion_scope", scope)}
}

type pionLogger struct {
	log *zap.SugaredLogger
}

func (l *pionLogger) Trace(msg string)                          { l.log.Debug(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *pionLogger) Debug(msg string)                          { l.log.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *pionLogger) Info(msg string)                           { l.log.Debug(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.log.Debugf(format, args...) }
func (l *pionLogger) Warn(msg string)                           { l.log.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.log.Warnf(format, args...) }
func (l *pionLogger) Error(msg string)                          { l.log.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
