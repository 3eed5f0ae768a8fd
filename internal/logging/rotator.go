package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer that renames the log file aside once it
// grows past Config.MaxSize megabytes.
type FileRotator struct {
	config *Config
	mu     sync.Mutex
	file   *os.File
	size   int64
}

// NewFileRotator opens (or creates) the configured log file.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{config: cfg}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}
	if r.config.MaxSize > 0 && r.size+int64(len(p)) > r.config.MaxSize*1024*1024 {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	rotated := filepath.Join(filepath.Dir(r.config.FilePath),
		fmt.Sprintf("%s-%s%s", name, time.Now().Format("20060102-150405.000"), ext))
	if err := os.Rename(r.config.FilePath, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if err := r.openFile(); err != nil {
		return err
	}
	r.prune()
	return nil
}

// prune keeps the newest MaxBackups rotated files.
func (r *FileRotator) prune() {
	backups, err := r.Backups()
	if err != nil || r.config.MaxBackups <= 0 || len(backups) <= r.config.MaxBackups {
		return
	}
	for _, path := range backups[:len(backups)-r.config.MaxBackups] {
		os.Remove(path)
	}
}

// Backups lists rotated log files, oldest first.
func (r *FileRotator) Backups() ([]string, error) {
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(r.config.FilePath), name+"-*"+ext))
	if err != nil {
		return nil, err
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	return matches, nil
}

// Close closes the underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
