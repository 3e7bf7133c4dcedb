package store

import "go.uber.org/zap"

// NoticeLevel is the severity of a Notice.
type NoticeLevel string

// Notice levels
const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a user-facing message about a storage event.
type Notice struct {
	Level   NoticeLevel
	Key     string
	Message string
	Err     error
}

// Notifier is the side channel for storage failures.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

// Notify calls f.
func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(notice Notice) {
	fields := []zap.Field{zap.String("key", notice.Key)}
	if notice.Err != nil {
		fields = append(fields, zap.Error(notice.Err))
	}
	if notice.Level == NoticeError {
		n.logger.Error(notice.Message, fields...)
		return
	}
	n.logger.Info(notice.Message, fields...)
}
