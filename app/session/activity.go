package session

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/ulikunitz/xz"
)

// activityFields is the CSV header of the activity log.
var activityFields = []string{
	"timestamp_utc",
	"session_id",
	"user_name",
	"user_email",
	"event_type",
	"event_data_json",
}

// defaultMaxLogSize is the rotation threshold for the activity log.
const defaultMaxLogSize = 10 * 1024 * 1024

// Event is one user action recorded in the activity log.
type Event struct {
	SessionID string         `json:"sessionId"`
	UserName  string         `json:"userName"`
	UserEmail string         `json:"userEmail"`
	EventType string         `json:"eventType"`
	EventData map[string]any `json:"eventData,omitempty"`

	// Timestamp is optional; the logger fills in the current UTC time when
	// it is zero.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ActivityLogger appends user activity events to a CSV file. When the file
// grows past maxSize it is rotated aside and compressed with xz so long
// sessions do not fill the disk with plain text.
type ActivityLogger struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	file    *os.File
	written int64
}

// NewActivityLogger opens (or creates) the activity log at path. A header
// row is written when the file is new or empty.
func NewActivityLogger(path string) (*ActivityLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create activity log directory: %w", err)
	}

	l := &ActivityLogger{path: path, maxSize: defaultMaxLogSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ActivityLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open activity log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat activity log: %w", err)
	}

	l.file = f
	l.written = info.Size()

	if l.written == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(activityFields); err != nil {
			f.Close()
			return fmt.Errorf("failed to write activity log header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return err
		}
		info, err = f.Stat()
		if err == nil {
			l.written = info.Size()
		}
	}
	return nil
}

// Log appends one event row. Errors are returned but safe to ignore for
// non-critical events; the log must never block user actions.
func (l *ActivityLogger) Log(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("activity log is closed")
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	data := ev.EventData
	if data == nil {
		data = map[string]any{}
	}

	row := []string{
		ts.UTC().Format(time.RFC3339),
		ev.SessionID,
		ev.UserName,
		ev.UserEmail,
		ev.EventType,
		oj.JSON(data),
	}

	w := csv.NewWriter(l.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write activity event: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush activity event: %w", err)
	}

	info, err := l.file.Stat()
	if err == nil {
		l.written = info.Size()
	}
	if l.written >= l.maxSize {
		return l.rotate()
	}
	return nil
}

// SetMaxSize overrides the rotation threshold in bytes.
func (l *ActivityLogger) SetMaxSize(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > 0 {
		l.maxSize = n
	}
}

// Close flushes and closes the underlying file.
func (l *ActivityLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// rotate moves the current log aside, compresses the copy with xz, and
// reopens a fresh log file. Caller holds l.mu.
func (l *ActivityLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close activity log for rotation: %w", err)
	}
	l.file = nil

	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		// Reopen so logging keeps working even when rotation failed
		openErr := l.open()
		if openErr != nil {
			return openErr
		}
		return fmt.Errorf("failed to rotate activity log: %w", err)
	}

	if err := compressFile(rotated); err != nil {
		// Keep the uncompressed rotation in place; losing history is worse
		// than losing the compression.
		if openErr := l.open(); openErr != nil {
			return openErr
		}
		return err
	}

	return l.open()
}

// compressFile writes path.xz and removes the original on success.
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rotated log: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path + ".xz")
	if err != nil {
		return fmt.Errorf("failed to create compressed log: %w", err)
	}

	xw, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		return fmt.Errorf("failed to create xz writer: %w", err)
	}

	if _, err := io.Copy(xw, src); err != nil {
		xw.Close()
		dst.Close()
		return fmt.Errorf("failed to compress rotated log: %w", err)
	}
	if err := xw.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("failed to finish compressed log: %w", err)
	}
	if err := dst.Close(); err != nil {
		return err
	}

	src.Close()
	return os.Remove(path)
}
