package wa

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLog routes whatsmeow's printf-style logging into the daemon log.
// Its info level is noisy and lands at debug; its debug level is dropped.
type zapLog struct {
	s *zap.SugaredLogger
}

var _ waLog.Logger = zapLog{}

func newZapLog(logger *zap.Logger, module string) waLog.Logger {
	return zapLog{s: logger.Named(module).Sugar()}
}

func (l zapLog) Errorf(msg string, args ...any) { l.s.Errorf(msg, args...) }
func (l zapLog) Warnf(msg string, args ...any)  { l.s.Warnf(msg, args...) }
func (l zapLog) Infof(msg string, args ...any)  { l.s.Debugf(msg, args...) }
func (zapLog) Debugf(string, ...any)            {}

func (l zapLog) Sub(module string) waLog.Logger {
	return zapLog{s: l.s.Named(module)}
}
