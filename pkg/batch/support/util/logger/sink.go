package logger

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileSink is an extra log destination attached with AddFileSink.
type FileSink struct {
	path    string
	file    *os.File
	core    zapcore.Core
	entries atomic.Int64
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Entries returns how many entries have been written to the sink.
func (s *FileSink) Entries() int64 { return s.entries.Load() }

// OnlyLevel enables a single level.
func OnlyLevel(l LogLevel) zapcore.LevelEnabler {
	zl := l.zapLevel()
	return zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl == zl })
}

// AtLeast enables a level and everything above it.
func AtLeast(l LogLevel) zapcore.LevelEnabler {
	return l.zapLevel()
}

// AddFileSink tees log entries accepted by enabler into a JSON file at path.
// The sink stays attached until Close is called on it.
func AddFileSink(path string, enabler zapcore.LevelEnabler) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	s := &FileSink{path: path, file: f}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(f), enabler)
	s.core = zapcore.RegisterHooks(core, func(zapcore.Entry) error {
		s.entries.Add(1)
		return nil
	})

	mu.Lock()
	sinks = append(sinks, s)
	rebuild()
	mu.Unlock()
	return s, nil
}

// Close detaches the sink and closes its file.
func (s *FileSink) Close() error {
	mu.Lock()
	for i, other := range sinks {
		if other == s {
			sinks = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	rebuild()
	mu.Unlock()

	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
