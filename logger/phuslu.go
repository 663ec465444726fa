package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger writes through the phuslu-style github.com/oarkflow/log package.
type PhusluLogger struct{}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

func (p *PhusluLogger) Debug(msg string, keyvals ...any) {
	withFields(phlog.Debug(), keyvals).Msg(msg)
}

func (p *PhusluLogger) Info(msg string, keyvals ...any) {
	withFields(phlog.Info(), keyvals).Msg(msg)
}

func (p *PhusluLogger) Error(msg string, keyvals ...any) {
	withFields(phlog.Error(), keyvals).Msg(msg)
}

// withFields appends key/value pairs; a trailing key without a value is dropped.
func withFields(e *phlog.Entry, keyvals []any) *phlog.Entry {
	for i := 0; i+1 < len(keyvals); i += 2 {
		k := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(k, v)
		case bool:
			e = e.Bool(k, v)
		case int:
			e = e.Int(k, v)
		case error:
			e = e.Str(k, v.Error())
		default:
			e = e.Any(k, v)
		}
	}
	return e
}
