// Package logging wires the structured log sinks: a human-readable stderr
// stream plus info/debug JSONL files, all behind secret redaction.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options configures the log sinks.
type Options struct {
	Verbose bool      // show debug events on the console
	Console io.Writer // defaults to os.Stderr
	Dir     string    // directory for info.jsonl and debug.jsonl; empty disables files
}

// Sink owns the open log files.
type Sink struct {
	Logger *slog.Logger
	files  []*os.File
}

// Close flushes and closes the log files.
func (s *Sink) Close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// Setup builds the logger. A log directory that cannot be created degrades
// to console-only logging rather than failing the caller.
func Setup(opts Options) (*Sink, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}),
	}
	sink := &Sink{}

	var setupErr error
	if opts.Dir != "" {
		info, debug, err := openFiles(opts.Dir)
		if err != nil {
			setupErr = err
		} else {
			sink.files = []*os.File{info, debug}
			handlers = append(handlers,
				levelOnly(slog.NewJSONHandler(info, &slog.HandlerOptions{Level: slog.LevelInfo}), slog.LevelInfo),
				slog.NewJSONHandler(debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
			)
		}
	}

	sink.Logger = slog.New(NewRedactHandler(fanout(handlers)))
	return sink, setupErr
}

func openFiles(dir string) (info, debug *os.File, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	_ = os.Chmod(dir, 0o700)

	open := func(name string) (*os.File, error) {
		return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	}
	if info, err = open("info.jsonl"); err != nil {
		return nil, nil, fmt.Errorf("open info log: %w", err)
	}
	if debug, err = open("debug.jsonl"); err != nil {
		_ = info.Close()
		return nil, nil, fmt.Errorf("open debug log: %w", err)
	}
	return info, debug, nil
}

// Discard returns a logger that drops everything. Used by tests and library callers.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// multiHandler sends each record to every handler that accepts its level.
type multiHandler []slog.Handler

func fanout(hs []slog.Handler) slog.Handler {
	if len(hs) == 1 {
		return hs[0]
	}
	return multiHandler(hs)
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}

// exactLevel keeps only records at one level, so info.jsonl holds the
// user-visible tier without warnings or debug noise.
type exactLevel struct {
	slog.Handler
	level slog.Level
}

func levelOnly(h slog.Handler, level slog.Level) slog.Handler {
	return &exactLevel{Handler: h, level: level}
}

func (h *exactLevel) Enabled(ctx context.Context, level slog.Level) bool {
	return level == h.level && h.Handler.Enabled(ctx, level)
}

func (h *exactLevel) Handle(ctx context.Context, r slog.Record) error {
	if r.Level != h.level {
		return nil
	}
	return h.Handler.Handle(ctx, r)
}

func (h *exactLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &exactLevel{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *exactLevel) WithGroup(name string) slog.Handler {
	return &exactLevel{Handler: h.Handler.WithGroup(name), level: h.level}
}
