// Package logging builds the process-wide zap logger, mirroring
// original_source/redirector/src/main.rs's tracing_subscriber setup: a
// level-filtered core writing to either stdout or a rotating log file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the proxy CLI's logging flags (spec.md §6).
type Config struct {
	Stdout   bool
	Level    string
	Dir      string
	FileName string
}

// New builds a *zap.Logger per cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("logging: bad log level %q: %w", cfg.Level, err)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	if cfg.Stdout {
		sink = zapcore.AddSync(os.Stdout)
	} else {
		sink = zapcore.AddSync(newDailyFile(cfg.Dir, cfg.FileName))
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core), nil
}

// dailyFile reopens its underlying file at day boundaries, the closest
// stdlib-only analogue to the original's tracing-appender
// RollingFileAppender with Rotation::DAILY (no rotating-file library
// appears anywhere in the retrieval pack).
type dailyFile struct {
	mu      sync.Mutex
	dir     string
	name    string
	day     string
	current *os.File
}

func newDailyFile(dir, name string) *dailyFile {
	return &dailyFile{dir: dir, name: name}
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if d.current == nil || d.day != today {
		if d.current != nil {
			d.current.Close()
		}
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return 0, err
		}
		path := filepath.Join(d.dir, today+"."+d.name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, err
		}
		d.current = f
		d.day = today
	}
	return d.current.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.current.Sync()
}
