// Package logtail tracks byte-offset cursors into append-only player logs
// and reports only the data appended since the previous read.
package logtail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GoldLion7288/advertisement/internal/events"
)

// DefaultFollowInterval is the poll interval for follow mode.
const DefaultFollowInterval = 500 * time.Millisecond

// State classifies one delta read.
type State string

const (
	// StateNotCreated means the log file does not exist yet.
	StateNotCreated State = "not_created"
	// StateNoNewData means nothing was appended since the last read.
	StateNoNewData State = "no_new_data"
	// StateNewData means the delta carries appended bytes.
	StateNewData State = "new_data"
	// StateRotated means the file shrank below the cursor; the cursor was
	// reset and the delta carries the file from the beginning.
	StateRotated State = "rotated"
)

// Delta is the outcome of one incremental read.
type Delta struct {
	State  State
	Data   []byte
	Offset int64
}

// Tailer keeps one monotonically advancing cursor per log file for the
// lifetime of a diagnostic session. Cursors only move backwards on an
// explicitly reported rotation.
type Tailer struct {
	mu      sync.Mutex
	cursors map[string]int64
}

// NewTailer creates a tailer with all cursors at zero.
func NewTailer() *Tailer {
	return &Tailer{cursors: make(map[string]int64)}
}

// Delta reads everything appended to path since the previous call.
func (t *Tailer) Delta(path string) (Delta, error) {
	if t == nil {
		return Delta{}, errors.New("tailer is nil")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Delta{}, errors.New("log path is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cursor := t.cursors[path]

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Delta{State: StateNotCreated, Offset: cursor}, nil
		}
		return Delta{}, fmt.Errorf("stat log %s: %w", path, err)
	}

	size := info.Size()
	switch {
	case size == cursor:
		return Delta{State: StateNoNewData, Offset: cursor}, nil
	case size < cursor:
		data, err := readRange(path, 0, size)
		if err != nil {
			return Delta{}, err
		}
		t.cursors[path] = size
		return Delta{State: StateRotated, Data: data, Offset: size}, nil
	default:
		data, err := readRange(path, cursor, size)
		if err != nil {
			return Delta{}, err
		}
		t.cursors[path] = size
		return Delta{State: StateNewData, Data: data, Offset: size}, nil
	}
}

// Cursor returns the current offset for path.
func (t *Tailer) Cursor(path string) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursors[strings.TrimSpace(path)]
}

// Chunk is the payload published for each delta in follow mode.
type Chunk struct {
	Path    string
	Data    string
	Rotated bool
	ReadAt  time.Time
}

// Follow polls every path on an interval and publishes new log data to the
// event bus until the context is canceled.
func (t *Tailer) Follow(ctx context.Context, paths []string, interval time.Duration, bus events.Bus) error {
	if t == nil {
		return errors.New("tailer is nil")
	}
	if bus == nil {
		return errors.New("event bus is required for follow mode")
	}
	cleaned := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path != "" {
			cleaned = append(cleaned, path)
		}
	}
	if len(cleaned) == 0 {
		return errors.New("at least one log path is required")
	}
	if interval <= 0 {
		interval = DefaultFollowInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, path := range cleaned {
				delta, err := t.Delta(path)
				if err != nil {
					return err
				}
				if delta.State != StateNewData && delta.State != StateRotated {
					continue
				}
				severity := events.SeverityInfo
				if delta.State == StateRotated {
					severity = events.SeverityWarn
				}
				bus.Publish(events.Event{
					Type:     events.EventTypeLogChunk,
					Source:   path,
					Severity: severity,
					Payload: Chunk{
						Path:    path,
						Data:    string(delta.Data),
						Rotated: delta.State == StateRotated,
						ReadAt:  time.Now().UTC(),
					},
				})
			}
		}
	}
}

func readRange(path string, from, to int64) ([]byte, error) {
	// #nosec G304 -- path comes from trusted local configuration.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if from > 0 {
		if _, err := file.Seek(from, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek log %s to %d: %w", path, from, err)
		}
	}
	data := make([]byte, to-from)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}
	return data, nil
}
