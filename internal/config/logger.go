package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger initializes the application logger based on configuration
func InitLogger(cfg *LoggingConfig) (*slog.Logger, error) {
	// Parse log level
	level := parseLogLevel(cfg.Level)

	// Console output is only used for the "-" sentinel; the watch TUI owns the terminal
	if cfg.File == "" {
		cfg.File = filepath.Join(getStateDir(), appName, appName+".log")
	}
	if cfg.File == "-" {
		cfg.File = ""
	}

	// Create log file directory if it doesn't exist
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Configure log rotation
	var writer io.Writer
	if cfg.File != "" {
		writer = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
	} else {
		writer = os.Stderr
	}

	// Create handler based on format
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		// For text format, we'll use a colored handler if enabled and outputting to console
		isConsole := cfg.File == "" // Only apply coloring when logging to console, not file
		if cfg.Color && isConsole {
			handler = NewColoredTextHandler(writer, handlerOpts)
		} else {
			handler = slog.NewTextHandler(writer, handlerOpts)
		}
	}

	logger := slog.New(handler).With("app", appName)
	slog.SetDefault(logger)

	return logger, nil
}

// Component returns a child logger tagged with the component name
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// ColoredTextHandler writes slog text output with the level highlighted
// for a terminal. Handlers derived through WithAttrs and WithGroup share the
// writer and its lock.
type ColoredTextHandler struct {
	inner slog.Handler
	out   *coloredOutput
}

type coloredOutput struct {
	mu  sync.Mutex
	buf bytes.Buffer
	w   io.Writer
}

// NewColoredTextHandler creates a new handler that adds colors for console output
func NewColoredTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColoredTextHandler {
	out := &coloredOutput{w: w}
	return &ColoredTextHandler{
		inner: slog.NewTextHandler(&out.buf, opts),
		out:   out,
	}
}

// Handle implements slog.Handler interface
func (h *ColoredTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()

	h.out.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	token := "level=" + r.Level.String()
	line := strings.Replace(h.out.buf.String(), token, levelColor(r.Level)+token+"\033[0m", 1)
	_, err := io.WriteString(h.out.w, line)
	return err
}

// levelColor returns the ANSI color for a level: gray, green, yellow or red
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[32m"
	default:
		return "\033[90m"
	}
}

// WithAttrs implements slog.Handler interface
func (h *ColoredTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColoredTextHandler{inner: h.inner.WithAttrs(attrs), out: h.out}
}

// WithGroup implements slog.Handler interface
func (h *ColoredTextHandler) WithGroup(name string) slog.Handler {
	return &ColoredTextHandler{inner: h.inner.WithGroup(name), out: h.out}
}

// Enabled implements slog.Handler interface
func (h *ColoredTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// parseLogLevel parses a log level string
func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
