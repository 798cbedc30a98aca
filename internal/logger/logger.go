package logger

import (
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config selects level, line format ("text" or "json") and destination
// ("stdout", "stderr" or a file path).
type Config struct {
	Level  string
	Format string
	Output string
}

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	jsonFormat   = false
	logger       = stdlog.New(os.Stdout, "", 0)
	output       io.Closer
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func parseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	lvl, ok := parseLevel(level)
	if !ok {
		return
	}

	mu.Lock()
	currentLevel = lvl
	mu.Unlock()
}

// Configure applies cfg. Empty fields keep their current value.
func Configure(cfg Config) error {
	lvl, levelSet := currentLevelOr(cfg.Level)
	if cfg.Level != "" && !levelSet {
		return fmt.Errorf("unknown log level %q", cfg.Level)
	}

	format := strings.ToLower(cfg.Format)
	if format != "" && format != "text" && format != "json" {
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var (
		w      io.Writer
		closer io.Closer
	)

	switch strings.ToLower(cfg.Output) {
	case "":
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log output %q: %w", cfg.Output, err)
		}
		w, closer = f, f
	}

	mu.Lock()
	defer mu.Unlock()

	if levelSet {
		currentLevel = lvl
	}
	if format != "" {
		jsonFormat = format == "json"
	}
	if w != nil {
		if output != nil {
			_ = output.Close()
		}
		logger.SetOutput(w)
		output = closer
	}

	return nil
}

func currentLevelOr(level string) (Level, bool) {
	if level == "" {
		return LevelInfo, false
	}
	return parseLevel(level)
}

// Enabled reports whether messages at level would be written.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= currentLevel
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()

	if level < currentLevel {
		return
	}

	now := time.Now()
	message := fmt.Sprintf(format, v...)

	if jsonFormat {
		line, err := json.Marshal(struct {
			Time  string `json:"time"`
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}{now.Format(time.RFC3339Nano), level.String(), message})
		if err == nil {
			logger.Println(string(line))
			return
		}
	}

	prefix := fmt.Sprintf("[%s] [%s] ", now.Format("2006-01-02 15:04:05"), level.String())
	logger.Println(prefix + message)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
