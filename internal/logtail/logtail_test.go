package logtail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoldLion7288/advertisement/internal/events"
)

func TestDeltaReportsNotCreatedUntilFileAppears(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "player.log")
	tailer := NewTailer()

	delta, err := tailer.Delta(path)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if delta.State != StateNotCreated {
		t.Fatalf("state = %q, want %q", delta.State, StateNotCreated)
	}
	if tailer.Cursor(path) != 0 {
		t.Fatalf("cursor = %d, want 0", tailer.Cursor(path))
	}

	appendFile(t, path, "first entry\n")

	delta, err = tailer.Delta(path)
	if err != nil {
		t.Fatalf("delta after create: %v", err)
	}
	if delta.State != StateNewData {
		t.Fatalf("state = %q, want %q", delta.State, StateNewData)
	}
	if string(delta.Data) != "first entry\n" {
		t.Fatalf("data = %q", delta.Data)
	}
}

func TestDeltaIsIdempotentWithoutNewWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "player.log")
	appendFile(t, path, "entry\n")
	tailer := NewTailer()

	first, err := tailer.Delta(path)
	if err != nil {
		t.Fatalf("first delta: %v", err)
	}
	if first.State != StateNewData {
		t.Fatalf("first state = %q", first.State)
	}
	cursorAfterFirst := tailer.Cursor(path)

	second, err := tailer.Delta(path)
	if err != nil {
		t.Fatalf("second delta: %v", err)
	}
	if second.State != StateNoNewData {
		t.Fatalf("second state = %q, want %q", second.State, StateNoNewData)
	}
	if len(second.Data) != 0 {
		t.Fatalf("second data = %q, want empty", second.Data)
	}
	if tailer.Cursor(path) != cursorAfterFirst {
		t.Fatalf("cursor moved from %d to %d without new data", cursorAfterFirst, tailer.Cursor(path))
	}
}

func TestDeltaIsCumulativeAndNonOverlapping(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "player.log")
	tailer := NewTailer()

	appendFile(t, path, "chunk-A")
	first, err := tailer.Delta(path)
	if err != nil {
		t.Fatalf("first delta: %v", err)
	}
	if string(first.Data) != "chunk-A" {
		t.Fatalf("first data = %q, want chunk-A", first.Data)
	}

	appendFile(t, path, "chunk-B")
	second, err := tailer.Delta(path)
	if err != nil {
		t.Fatalf("second delta: %v", err)
	}
	if string(second.Data) != "chunk-B" {
		t.Fatalf("second data = %q, want exactly chunk-B", second.Data)
	}
}

func TestDeltaDistinguishesRotationFromNoNewData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "player.log")
	tailer := NewTailer()

	appendFile(t, path, "a long first generation of log data\n")
	if _, err := tailer.Delta(path); err != nil {
		t.Fatalf("first delta: %v", err)
	}

	if err := os.WriteFile(path, []byte("fresh\n"), 0o600); err != nil {
		t.Fatalf("rotate log: %v", err)
	}

	delta, err := tailer.Delta(path)
	if err != nil {
		t.Fatalf("delta after rotation: %v", err)
	}
	if delta.State != StateRotated {
		t.Fatalf("state = %q, want %q", delta.State, StateRotated)
	}
	if string(delta.Data) != "fresh\n" {
		t.Fatalf("data = %q, want full rotated content", delta.Data)
	}
	if tailer.Cursor(path) != int64(len("fresh\n")) {
		t.Fatalf("cursor = %d after rotation", tailer.Cursor(path))
	}
}

func TestFollowPublishesChunksUntilCanceled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "player.log")
	tailer := NewTailer()
	bus := events.New(events.WithLogger(&silentLogger{}))

	chunks := make(chan events.Event, 8)
	bus.Subscribe(events.EventTypeLogChunk, func(event events.Event) {
		chunks <- event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- tailer.Follow(ctx, []string{path}, 5*time.Millisecond, bus)
	}()

	appendFile(t, path, "streamed entry\n")

	select {
	case event := <-chunks:
		chunk, ok := event.Payload.(Chunk)
		if !ok {
			t.Fatalf("payload type = %T, want Chunk", event.Payload)
		}
		if chunk.Data != "streamed entry\n" {
			t.Fatalf("chunk data = %q", chunk.Data)
		}
		if chunk.Rotated {
			t.Fatal("chunk unexpectedly flagged rotated")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log chunk event")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("follow: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for follow shutdown")
	}
}

func appendFile(t *testing.T, path string, data string) {
	t.Helper()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	if _, err := file.WriteString(data); err != nil {
		t.Fatalf("append to %s: %v", path, err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

type silentLogger struct{}

func (silentLogger) Printf(string, ...any) {}
