package driver

import (
	"context"
	"log/slog"
	"time"
)

// nopHandler is a slog.Handler that silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

type options struct {
	log          *slog.Logger
	dwellScale   float64
	pollInterval time.Duration
}

func defaultOptions() options {
	return options{
		log:          slog.New(nopHandler{}),
		dwellScale:   1,
		pollInterval: 20 * time.Millisecond,
	}
}

// Option configures a driver
type Option func(*options)

// WithLogger sets the logger. By default drivers produce no log output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDwellScale multiplies simulated G4 dwell times (virtual driver only).
// Zero makes dwells instant.
func WithDwellScale(scale float64) Option {
	return func(o *options) {
		if scale >= 0 {
			o.dwellScale = scale
		}
	}
}

// WithPollInterval sets how often a held virtual stream checks for resume
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
