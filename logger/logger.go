package logger

// Logger is the structured logging surface used by the engine and stores.
// keyvals alternate between a key and its value.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

var (
	_ Logger = (*NullLogger)(nil)
	_ Logger = (*PhusluLogger)(nil)
	_ Logger = (*SLogLogger)(nil)
)
