// logutil.go - Logger-Konstruktion fuer qnnrt
//
// Dieses Modul enthaelt:
// - LevelTrace: zusaetzliches Level unterhalb von DEBUG
// - NewLogger: slog-Logger mit farbiger Terminal-Ausgabe (tint) oder Text-Handler
// - WithFile: zusaetzliche rotierende Log-Datei (lumberjack)
// - Trace: Kurzform fuer slog.Log(..., LevelTrace, ...)
package logutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const LevelTrace slog.Level = -8

// NewLogger creates a logger writing to w. Terminals get colored output,
// everything else the plain text handler.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(w, level))
}

// NewHandler returns the handler used by NewLogger.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return tint.NewHandler(w, &tint.Options{
			Level:       level,
			AddSource:   level <= slog.LevelDebug,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: replaceLevel,
		})
	}

	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	})
}

// WithFile returns a logger that additionally writes to a rotating log file.
// The closer flushes and closes the file.
func WithFile(w io.Writer, level slog.Level, path string) (*slog.Logger, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // MB
		MaxBackups: 3,
		MaxAge:     7,
	}

	return slog.New(fanout{
		NewHandler(w, level),
		slog.NewTextHandler(file, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}),
	}), file
}

func replaceLevel(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.LevelKey {
		if level, ok := attr.Value.Any().(slog.Level); ok && level <= LevelTrace {
			attr.Value = slog.StringValue("TRACE")
		}
	}
	return attr
}

func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	attr = replaceLevel(groups, attr)
	if attr.Key == slog.SourceKey {
		if source, ok := attr.Value.Any().(*slog.Source); ok {
			source.File = filepath.Base(source.File)
		}
	}
	return attr
}

// fanout verteilt Records auf mehrere Handler
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make(fanout, len(f))
	for i, h := range f {
		hs[i] = h.WithAttrs(attrs)
	}
	return hs
}

func (f fanout) WithGroup(name string) slog.Handler {
	hs := make(fanout, len(f))
	for i, h := range f {
		hs[i] = h.WithGroup(name)
	}
	return hs
}

// Trace logs at LevelTrace on the default logger.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}
