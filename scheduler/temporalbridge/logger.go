package temporalbridge

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapAdapter 把 zap 适配成 SDK 的 log.Logger
type zapAdapter struct {
	base *zap.SugaredLogger
}

// NewZapAdapter 创建 SDK 日志适配器，给 client.Options.Logger 用
func NewZapAdapter(base *zap.Logger) log.Logger {
	return &zapAdapter{
		base: base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

func (l *zapAdapter) Debug(msg string, keyvals ...interface{}) { l.base.Debugw(msg, keyvals...) }
func (l *zapAdapter) Info(msg string, keyvals ...interface{})  { l.base.Infow(msg, keyvals...) }
func (l *zapAdapter) Warn(msg string, keyvals ...interface{})  { l.base.Warnw(msg, keyvals...) }
func (l *zapAdapter) Error(msg string, keyvals ...interface{}) { l.base.Errorw(msg, keyvals...) }
