// Package logger defines the logging surface used across the driver layer.
//
// The interface is slog-flavored: a message followed by alternating
// key/value pairs. Use New with any slog.Handler, or the zerolog adapter
// for callers that already run a zerolog pipeline.
package logger

import (
	"log/slog"
)

type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Discard returns a Logger that drops everything. It is the default for
// components constructed without an explicit logger.
func Discard() Logger { return noop{} }

type noop struct{}

func (noop) Error(string, ...any) {}
func (noop) Warn(string, ...any)  {}
func (noop) Info(string, ...any)  {}
func (noop) Debug(string, ...any) {}

type SlogHandler struct {
	logger *slog.Logger
}

func New(h slog.Handler) *SlogHandler {
	logger := slog.New(h)
	return &SlogHandler{logger: logger}
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}
