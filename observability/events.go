// Package observability bridges the protocol event stream into logs.
package observability

import (
	"log/slog"

	"giftvault/core/events"
	"giftvault/core/types"
)

// LogEmitter writes every protocol event as a structured log line.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(event events.Event) {
	carrier, ok := event.(interface{ Event() *types.Event })
	if !ok {
		e.logger.Info(event.EventType())
		return
	}
	evt := carrier.Event()
	if evt == nil {
		return
	}
	args := make([]any, 0, len(evt.Attributes)*2)
	for key, value := range evt.Attributes {
		args = append(args, key, value)
	}
	e.logger.Info(evt.Type, args...)
}
