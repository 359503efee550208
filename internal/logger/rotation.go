package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newRotatingWriter opens a size/age rotated log file. lumberjack does not
// create parent directories, so they are created here.
func newRotatingWriter(path string, rotation *FileOutput) (*lumberjack.Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	w := &lumberjack.Logger{
		Filename:  path,
		MaxSize:   DefaultMaxSize,
		LocalTime: true,
	}
	if rotation != nil {
		if rotation.MaxSize > 0 {
			w.MaxSize = rotation.MaxSize
		}
		w.MaxAge = rotation.MaxAge
		w.MaxBackups = rotation.MaxRotatedFiles
		w.Compress = rotation.Compress
	}
	return w, nil
}
