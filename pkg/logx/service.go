package logx

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig controls the rotated JSON file sink. Zero rotation values take the
// lumberjack defaults (100MB, keep all backups, never expire).
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultLogPath    = "./ledgercast.log"
	consoleTimeFormat = "15:04:05.000"
)

func init() {
	zerolog.ErrorFieldName = "err"
}

// Service owns the sinks. Loggers derived from it follow every Apply.
type Service struct {
	mu      sync.Mutex
	fileCfg FileConfig
	file    *lumberjack.Logger
	console io.Writer
	active  atomic.Pointer[zerolog.Logger]
}

// New builds the service and applies cfg.
func New(cfg Config) (*Service, Logger) {
	s := &Service{console: os.Stderr}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Level is the level currently in effect.
func (s *Service) Level() Level {
	zl := s.current()
	return zl.GetLevel()
}

// Apply rebuilds the root logger. The file sink is reopened only when its
// settings change, so level-only reloads keep the current file handle.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc := cfg.File
	fc.Path = strings.TrimSpace(fc.Path)
	if fc.Enabled && fc.Path == "" {
		fc.Path = defaultLogPath
	}
	if s.file != nil && (!fc.Enabled || fc != s.fileCfg) {
		_ = s.file.Close()
		s.file = nil
	}
	if fc.Enabled && s.file == nil {
		// lumberjack opens on first write; a bad path shows up as a write error then.
		s.file = &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.MaxSizeMB,
			MaxBackups: fc.MaxBackups,
			MaxAge:     fc.MaxAgeDays,
			Compress:   fc.Compress,
		}
	}
	s.fileCfg = fc

	var sinks []io.Writer
	if cfg.Console || s.file == nil {
		sinks = append(sinks, consoleWriter(s.console))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.active.Store(&zl)
}

// Close releases the file sink. Loggers keep writing to the console afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.fileCfg = FileConfig{}
	zl := zerolog.New(consoleWriter(s.console)).Level(s.current().GetLevel()).With().Timestamp().Logger()
	s.active.Store(&zl)
	return err
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
