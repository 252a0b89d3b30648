package study

import (
	"github.com/c-bata/goptuna"
	"go.uber.org/zap"
)

// optunaLogger routes goptuna's key/value logging into zap.
type optunaLogger struct {
	sugar *zap.SugaredLogger
}

var _ goptuna.Logger = (*optunaLogger)(nil)

func newOptunaLogger(logger *zap.Logger) *optunaLogger {
	// Per-trial chatter stays at debug
	return &optunaLogger{sugar: logger.Named("optimizer").Sugar()}
}

func (l *optunaLogger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, fields...) }
func (l *optunaLogger) Info(msg string, fields ...interface{})  { l.sugar.Debugw(msg, fields...) }
func (l *optunaLogger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, fields...) }
func (l *optunaLogger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, fields...) }
