package wallet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LogLevel selects how much a wallet logs. It mirrors the teacher's mint
// log levels rather than slog's own, since callers only ever pick one of a
// handful of verbosities from a CLI flag.
type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

// NewLogger builds a *slog.Logger writing to w, formatting timestamps the
// same truncated-to-the-second way the teacher's setupLogger does.
func NewLogger(w io.Writer, level LogLevel) *slog.Logger {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				source.File = filepath.Base(source.File)
			}
		}
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(time.Now().Truncate(time.Second).Format(time.DateTime))
		}
		return a
	}

	slogLevel := slog.LevelInfo
	switch level {
	case Debug:
		slogLevel = slog.LevelDebug
	case Disable:
		w = io.Discard
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slogLevel,
		ReplaceAttr: replacer,
	}))
}

// SetLogger attaches logger to w; nil disables logging. Safe to call at any
// time, including before any mint has been added.
func (w *MultiMintWallet) SetLogger(logger *slog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger = logger
}

func (w *MultiMintWallet) logInfof(format string, args ...any) {
	w.log(slog.LevelInfo, format, args...)
}

func (w *MultiMintWallet) logErrorf(format string, args ...any) {
	w.log(slog.LevelError, format, args...)
}

func (w *MultiMintWallet) logDebugf(format string, args ...any) {
	w.log(slog.LevelDebug, format, args...)
}

// log preserves the caller's source position, the way the teacher's
// logInfof/logErrorf/logDebugf do, rather than always pointing at this file.
func (w *MultiMintWallet) log(level slog.Level, format string, args ...any) {
	w.mu.RLock()
	logger := w.logger
	w.mu.RUnlock()
	if logger == nil || !logger.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = logger.Handler().Handle(context.Background(), r)
}
