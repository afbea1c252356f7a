package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/evanschultz/indexplan/internal/config"
)

const (
	defaultDevLogDir  = ".indexplan/log"
	defaultLogStem    = "indexplan"
	devLogDateLayout  = "20060102"
	devLogPermissions = 0o644
)

// workspaceMarkers identify a project root when placing relative dev logs.
var workspaceMarkers = []string{"go.mod", ".git"}

// logSink is one charm logger plus whether it writes to the console.
type logSink struct {
	logger  *charmLog.Logger
	console bool
}

// runtimeLogger fans log events to a styled console sink and, in dev mode, a logfmt file sink.
type runtimeLogger struct {
	sinks        []logSink
	consoleMuted bool
	file         *os.File
}

// newRuntimeLogger builds the console sink and, when dev mode and dev_file are on, the file sink.
func newRuntimeLogger(stderr io.Writer, appName string, devMode bool, cfg config.LoggingConfig, now func() time.Time) (*runtimeLogger, error) {
	level, err := charmLog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse logging level %q: %w", cfg.Level, err)
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if now == nil {
		now = time.Now
	}

	logger := &runtimeLogger{}
	logger.sinks = append(logger.sinks, logSink{
		logger:  newSinkLogger(stderr, level, appName, charmLog.TextFormatter),
		console: true,
	})
	if !devMode || !cfg.DevFile.Enabled {
		return logger, nil
	}

	path, err := devLogFilePath(cfg.DevFile.Dir, appName, now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve dev log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dev log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, devLogPermissions)
	if err != nil {
		return nil, fmt.Errorf("open dev log file: %w", err)
	}
	logger.file = file
	logger.sinks = append(logger.sinks, logSink{
		logger: newSinkLogger(file, level, appName, charmLog.LogfmtFormatter),
	})
	return logger, nil
}

// newSinkLogger creates one timestamped charm logger.
func newSinkLogger(w io.Writer, level charmLog.Level, prefix string, formatter charmLog.Formatter) *charmLog.Logger {
	return charmLog.NewWithOptions(w, charmLog.Options{
		Level:           level,
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
}

// active lists the sinks that currently receive events.
func (l *runtimeLogger) active() []*charmLog.Logger {
	if l == nil {
		return nil
	}
	out := make([]*charmLog.Logger, 0, len(l.sinks))
	for _, sink := range l.sinks {
		if sink.console && l.consoleMuted {
			continue
		}
		out = append(out, sink.logger)
	}
	return out
}

// Primary returns the first active sink for components that take a single logger.
func (l *runtimeLogger) Primary() *charmLog.Logger {
	if sinks := l.active(); len(sinks) > 0 {
		return sinks[0]
	}
	return charmLog.New(io.Discard)
}

// DevLogPath returns the dev log file path, or "" when file logging is off.
func (l *runtimeLogger) DevLogPath() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// SetConsoleEnabled mutes or unmutes the console sink.
func (l *runtimeLogger) SetConsoleEnabled(enabled bool) {
	if l != nil {
		l.consoleMuted = !enabled
	}
}

// Close closes the dev log file. Close failures are reported on the console when it is not muted.
func (l *runtimeLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.sinks = slices.DeleteFunc(l.sinks, func(sink logSink) bool {
		return !sink.console
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		l.Warn("close dev log file failed", "err", err)
		return err
	}
	return nil
}

func (l *runtimeLogger) emit(level charmLog.Level, msg string, keyvals ...any) {
	for _, sink := range l.active() {
		sink.Log(level, msg, keyvals...)
	}
}

func (l *runtimeLogger) Debug(msg string, keyvals ...any) {
	l.emit(charmLog.DebugLevel, msg, keyvals...)
}

func (l *runtimeLogger) Info(msg string, keyvals ...any) {
	l.emit(charmLog.InfoLevel, msg, keyvals...)
}

func (l *runtimeLogger) Warn(msg string, keyvals ...any) {
	l.emit(charmLog.WarnLevel, msg, keyvals...)
}

func (l *runtimeLogger) Error(msg string, keyvals ...any) {
	l.emit(charmLog.ErrorLevel, msg, keyvals...)
}

// devLogFilePath names the daily dev log file. Relative dirs resolve against the workspace root.
func devLogFilePath(dir, appName string, now time.Time) (string, error) {
	base := strings.TrimSpace(dir)
	if base == "" {
		base = defaultDevLogDir
	}
	if !filepath.IsAbs(base) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working dir: %w", err)
		}
		base = filepath.Join(workspaceRootFrom(cwd), base)
	}
	name := sanitizeLogFileStem(appName) + "-" + now.Format(devLogDateLayout) + ".log"
	return filepath.Join(filepath.Clean(base), name), nil
}

// workspaceRootFrom walks up from start to the nearest directory holding a workspace marker.
// It returns start when no ancestor has one.
func workspaceRootFrom(start string) string {
	start = filepath.Clean(strings.TrimSpace(start))
	for dir := start; ; {
		for _, marker := range workspaceMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// sanitizeLogFileStem turns an app name into one safe file-name segment.
func sanitizeLogFileStem(appName string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, strings.TrimSpace(appName))
	if stem = strings.Trim(stem, "-"); stem == "" {
		return defaultLogStem
	}
	return stem
}
