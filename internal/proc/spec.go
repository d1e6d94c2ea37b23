package proc

import (
	"io"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for child process logs.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
	defaultMaxAgeDays = 7
)

// LogConfig describes the on-disk log destination for a child process.
// An empty Dir disables file logging; output is still captured in memory.
type LogConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writer returns a rotated log writer for the named process, or nil when
// file logging is disabled.
func (c LogConfig) Writer(name string) (io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, err
	}
	maxSize := c.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxBackups := c.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	maxAge := c.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeDays
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.Dir, name+".log"),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   c.Compress,
	}, nil
}

// Spec describes one child process launch. Immutable once passed to Launch;
// a parameter change implies a new process.
type Spec struct {
	// Name identifies the process in logs and log file names.
	Name string
	// Command is the executable path.
	Command string
	// Args are passed verbatim.
	Args []string
	// Env entries are appended to the parent environment.
	Env map[string]string
	// WorkDir sets the child working directory; empty inherits.
	WorkDir string
	// Log configures rotated file output.
	Log LogConfig
}
