package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

type Logger struct {
	format Format
	level  Level
	out    io.Writer
	text   *log.Logger
	fields map[string]any
	mu     sync.Mutex
}

var defaultLogger = New(FormatJSON)

func ParseFormat(raw string) (Format, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return FormatJSON, nil
	}
	switch raw {
	case "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (expected text or json)", raw)
	}
}

func ParseLevel(raw string) (Level, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return LevelInfo, nil
	}
	switch raw {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unsupported log level %q (expected debug, info, warn or error)", raw)
	}
}

func Setup(rawFormat, rawLevel string) (*Logger, error) {
	format, err := ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	level, err := ParseLevel(rawLevel)
	if err != nil {
		return nil, err
	}
	logger := New(format)
	logger.level = level
	SetDefault(logger)
	return logger, nil
}

func New(format Format) *Logger {
	out := os.Stderr
	return &Logger{
		format: format,
		level:  LevelInfo,
		out:    out,
		text:   log.New(out, "", log.LstdFlags),
	}
}

func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}

func Default() *Logger {
	return defaultLogger
}

// With returns a logger that attaches the given key/value fields to every
// record. The receiver is not modified.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return nil
	}
	fields := make(map[string]any, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return &Logger{
		format: l.format,
		level:  l.level,
		out:    l.out,
		text:   l.text,
		fields: fields,
	}
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level = level
}

func Infof(format string, args ...any)  { defaultLogger.Infof(format, args...) }
func Warnf(format string, args ...any)  { defaultLogger.Warnf(format, args...) }
func Errorf(format string, args ...any) { defaultLogger.Errorf(format, args...) }
func Fatalf(format string, args ...any) { defaultLogger.Fatalf(format, args...) }

func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "debug", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "info", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "warn", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "error", fmt.Sprintf(format, args...))
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.log(LevelError, "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (l *Logger) log(level Level, levelName, message string) {
	if l == nil || level < l.level {
		return
	}
	if l.format == FormatText {
		l.text.Printf("%s", message)
		return
	}

	fields := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": levelName,
		"msg":   message,
	}
	for k, v := range l.fields {
		fields[k] = v
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	writeJSONLine(l.out, fields)
}

func writeJSONLine(w io.Writer, fields map[string]any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(fields)
}
