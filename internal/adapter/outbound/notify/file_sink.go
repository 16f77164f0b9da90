// Package notify provides notification sinks: structured logs, rotated JSON
// Lines files, Redis pub/sub, Prometheus counters and CEL-filtered wrappers.
package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

// ErrSinkClosed is returned by Emit after Close.
var ErrSinkClosed = errors.New("notification sink closed")

// notificationFilePattern matches notifications-YYYY-MM-DD.jsonl and
// notifications-YYYY-MM-DD-N.jsonl.
var notificationFilePattern = regexp.MustCompile(`^notifications-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

type fileInfo struct {
	name   string
	date   string
	suffix int
}

func parseFilename(name string) (fileInfo, bool) {
	m := notificationFilePattern.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

// sortFiles orders by date then suffix.
func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileConfig configures a FileSink.
type FileConfig struct {
	// Dir holds the notification files.
	Dir string
	// RetentionDays is how long files are kept (default 30).
	RetentionDays int
	// MaxFileSizeMB triggers a size rotation (default 100).
	MaxFileSizeMB int
}

// FileSink appends notifications as JSON Lines, one file per UTC day, with
// size rotation and retention cleanup.
type FileSink struct {
	dir           string
	maxFileSize   int64
	retentionDays int

	mu            sync.Mutex
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileSink creates the directory, opens today's file, removes expired
// files and starts the hourly cleanup loop.
func NewFileSink(cfg FileConfig, logger *slog.Logger) (*FileSink, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create notification directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileSink{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	today := time.Now().UTC().Format(time.DateOnly)
	if err := s.openDate(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, err
	}
	s.cleanup()
	go s.cleanupLoop(ctx)
	return s, nil
}

// Emit writes n as one line, rotating first when the day changed or the
// current file is full.
func (s *FileSink) Emit(_ context.Context, n notify.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	if date := n.OccurredAt.UTC().Format(time.DateOnly); date != s.currentDate {
		if err := s.openDate(date, s.highestSuffix(date)); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if s.currentSize >= s.maxFileSize {
		if err := s.openDate(s.currentDate, s.currentSuffix+1); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	written, err := s.current.Write(append(data, '\n'))
	s.currentSize += int64(written)
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// openDate replaces the current file. Caller must hold s.mu or be the
// constructor.
func (s *FileSink) openDate(date string, suffix int) error {
	if s.current != nil {
		_ = s.current.Sync()
		_ = s.current.Close()
		s.current = nil
	}
	name := filename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open file %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat file %s: %w", name, err)
	}
	s.current = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

func filename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("notifications-%s.jsonl", date)
	}
	return fmt.Sprintf("notifications-%s-%d.jsonl", date, suffix)
}

func (s *FileSink) files() []fileInfo {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var files []fileInfo
	for _, e := range entries {
		if info, ok := parseFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sortFiles(files)
	return files
}

func (s *FileSink) highestSuffix(date string) int {
	highest := 0
	for _, f := range s.files() {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// cleanup deletes files older than the retention period.
func (s *FileSink) cleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, f := range s.files() {
		day, err := time.Parse(time.DateOnly, f.date)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("notification cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("notification cleanup completed", "deleted", deleted)
	}
}

func (s *FileSink) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// LoadRecent returns up to n notifications from the newest non-empty file,
// oldest first. It is used to warm the in-memory buffer on start.
func (s *FileSink) LoadRecent(n int) ([]notify.Notification, error) {
	files := s.files()
	for i := len(files) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, files[i].name)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		all, err := s.readFile(path)
		if err != nil {
			return nil, err
		}
		if len(all) > n {
			all = all[len(all)-n:]
		}
		return all, nil
	}
	return nil, nil
}

func (s *FileSink) readFile(path string) ([]notify.Notification, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []notify.Notification
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var n notify.Notification
		if err := json.Unmarshal(line, &n); err != nil {
			s.logger.Warn("skipping malformed notification line", "file", filepath.Base(path), "error", err)
			continue
		}
		out = append(out, n)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Close stops the cleanup loop and closes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.current != nil {
		_ = s.current.Sync()
		err = s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()
	<-s.done
	return err
}

var _ notify.Sink = (*FileSink)(nil)
