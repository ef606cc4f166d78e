/*
File: logger.go
Version: 1.1.0
Description: Structured logging via log/slog with asynchronous buffered
             delivery, so slow outputs never stall the query path. Supports
             console and file outputs (text or JSON).
*/

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Default stderr logger so calls before InitLogger are not lost.
var logger *slog.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

var currentLevel slog.Level = slog.LevelInfo

var (
	logBuffer  chan slog.Record
	logDone    chan struct{}
	logWg      sync.WaitGroup
	asyncReady bool
)

const logBufferSize = 1024

// InitLogger configures the global logger from the logging config.
func InitLogger(cfg LoggingConfig) error {
	lvl := parseLogLevel(cfg.Level)
	currentLevel = lvl
	opts := &slog.HandlerOptions{Level: lvl}

	var handlers []slog.Handler
	for _, output := range cfg.Outputs {
		switch {
		case strings.EqualFold(output, "console"):
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		case strings.EqualFold(output, "file"):
			if cfg.File.Path == "" {
				return fmt.Errorf("file logging enabled but no path specified")
			}
			perm := os.FileMode(0644)
			if cfg.File.Permissions > 0 {
				perm = os.FileMode(cfg.File.Permissions)
			}
			f, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			if strings.EqualFold(cfg.Format, "json") {
				handlers = append(handlers, slog.NewJSONHandler(f, opts))
			} else {
				handlers = append(handlers, slog.NewTextHandler(f, opts))
			}
		default:
			return fmt.Errorf("unknown log output %q", output)
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
	}

	var finalHandler slog.Handler
	if len(handlers) > 1 {
		finalHandler = &multiHandler{handlers: handlers}
	} else {
		finalHandler = handlers[0]
	}

	logBuffer = make(chan slog.Record, logBufferSize)
	logDone = make(chan struct{})

	logWg.Add(1)
	go func() {
		defer logWg.Done()
		processLogs(finalHandler)
	}()
	asyncReady = true

	logger = slog.New(&asyncHandler{handler: finalHandler, buffer: logBuffer})
	slog.SetDefault(logger)
	return nil
}

func processLogs(h slog.Handler) {
	ctx := context.Background()
	for {
		select {
		case record := <-logBuffer:
			_ = h.Handle(ctx, record)
		case <-logDone:
			close(logBuffer)
			for record := range logBuffer {
				_ = h.Handle(ctx, record)
			}
			return
		}
	}
}

// ShutdownLogger flushes remaining records.
func ShutdownLogger() {
	if asyncReady {
		asyncReady = false
		close(logDone)
		logWg.Wait()
	}
}

// asyncHandler pushes records onto a channel; the background worker delivers
// them. A full buffer drops the record rather than blocking a query.
type asyncHandler struct {
	handler slog.Handler
	buffer  chan slog.Record
}

func (h *asyncHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.handler.Enabled(ctx, l)
}

func (h *asyncHandler) Handle(ctx context.Context, r slog.Record) error {
	select {
	case h.buffer <- r:
	default:
	}
	return nil
}

func (h *asyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &asyncHandler{handler: h.handler.WithAttrs(attrs), buffer: h.buffer}
}

func (h *asyncHandler) WithGroup(name string) slog.Handler {
	return &asyncHandler{handler: h.handler.WithGroup(name), buffer: h.buffer}
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDebugEnabled avoids expensive formatting in hot paths.
func IsDebugEnabled() bool {
	return currentLevel <= slog.LevelDebug
}

func logWithCaller(level slog.Level, format string, v ...interface{}) {
	if logger == nil {
		return
	}
	if !logger.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip logWithCaller, wrapper, caller
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, v...), pcs[0])
	_ = logger.Handler().Handle(context.Background(), r)
}

func LogDebug(format string, v ...interface{}) {
	logWithCaller(slog.LevelDebug, format, v...)
}

func LogInfo(format string, v ...interface{}) {
	logWithCaller(slog.LevelInfo, format, v...)
}

func LogWarn(format string, v ...interface{}) {
	logWithCaller(slog.LevelWarn, format, v...)
}

func LogError(format string, v ...interface{}) {
	logWithCaller(slog.LevelError, format, v...)
}

func LogFatal(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if logger != nil {
		logger.Error(msg)
		ShutdownLogger()
	}
	os.Exit(1)
}
