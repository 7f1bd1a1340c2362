// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by the flowdom binaries.
//
// Records go to a primary writer (stderr by default) and, when LogDir is
// set, to a daily JSON log file as well:
//
//	logger := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    Format:  logging.FormatAuto,
//	    LogDir:  "~/.flowdom/logs",
//	    Service: "flowdom",
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Formats
//
// FormatText and FormatJSON select the primary handler directly. FormatAuto
// picks text when the writer is a terminal and JSON otherwise, so piped
// output stays machine-readable. File logs are always JSON.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Output formats for the primary writer.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatAuto = "auto"
)

// Config configures a Logger.
type Config struct {
	// Level sets the minimum level. Default: slog.LevelInfo (the zero value).
	Level slog.Level

	// Format is FormatText, FormatJSON, or FormatAuto. Empty means auto.
	Format string

	// Writer is the primary destination. Default: os.Stderr.
	Writer io.Writer

	// LogDir enables file logging to "{Service}_{YYYY-MM-DD}.log" in this
	// directory. Supports ~ expansion. Default: "" (disabled).
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string
}

// Logger wraps slog.Logger with an optional log file.
type Logger struct {
	slog   *slog.Logger
	config Config

	mu   sync.Mutex
	file *os.File
}

// New creates a Logger. A log directory that cannot be created or opened
// is reported on the primary writer and file logging is skipped.
func New(config Config) *Logger {
	writer := config.Writer
	if writer == nil {
		writer = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: config.Level}

	var primary slog.Handler
	if ResolveFormat(config.Format, writer) == FormatJSON {
		primary = slog.NewJSONHandler(writer, opts)
	} else {
		primary = slog.NewTextHandler(writer, opts)
	}

	logger := &Logger{config: config}
	handler := primary

	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			slog.New(primary).Warn("logging: file logging disabled", slog.String("error", err.Error()))
		} else {
			logger.file = file
			handler = &multiHandler{handlers: []slog.Handler{primary, slog.NewJSONHandler(file, opts)}}
		}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	logger.slog = slog.New(handler)
	return logger
}

// ResolveFormat returns FormatText or FormatJSON for format and w.
func ResolveFormat(format string, w io.Writer) string {
	switch format {
	case FormatText, FormatJSON:
		return format
	}
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			return FormatText
		}
	}
	return FormatJSON
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// FilePath returns the path of the open log file, or "".
func (l *Logger) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close syncs and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "flowdom"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
