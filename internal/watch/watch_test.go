package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) cb(kind, rel string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+filepath.ToSlash(rel))
	r.mu.Unlock()
}

func (r *recorder) has(e string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.events {
		if got == e {
			return true
		}
	}
	return false
}

func (r *recorder) count(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, root string) *recorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		_ = Watch(ctx, root, 50*time.Millisecond, logger, rec.cb)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return rec
}

func TestWatch_NewFile(t *testing.T) {
	root := t.TempDir()
	rec := startWatch(t, root)

	_ = os.WriteFile(filepath.Join(root, "new.md"), []byte("# New"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("created:new.md")
	}, "expected created:new.md")
}

func TestWatch_BurstCoalesced(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "burst.md")
	_ = os.WriteFile(p, []byte("v0"), 0o644)
	rec := startWatch(t, root)

	for i := 0; i < 5; i++ {
		_ = os.WriteFile(p, []byte{byte('a' + i)}, 0o644)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("updated:burst.md")
	}, "expected updated:burst.md")
	time.Sleep(200 * time.Millisecond)
	if n := rec.count("updated:burst.md"); n != 1 {
		t.Errorf("updated events = %d, want 1", n)
	}
}

func TestWatch_IgnoresNonMarkdown(t *testing.T) {
	root := t.TempDir()
	rec := startWatch(t, root)

	_ = os.WriteFile(filepath.Join(root, "image.svg"), []byte("<svg/>"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "page.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("created:page.md")
	}, "expected created:page.md")
	if rec.has("created:image.svg") {
		t.Error("non-markdown file reported")
	}
}

func TestWatch_NewDir(t *testing.T) {
	root := t.TempDir()
	rec := startWatch(t, root)

	sub := filepath.Join(root, "subdir")
	_ = os.MkdirAll(sub, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "deep.md"), []byte("# Deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("created:subdir/deep.md")
	}, "file in new subdir not reported")
}

func TestWatch_Delete(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "del.md")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	rec := startWatch(t, root)

	_ = os.Remove(p)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("deleted:del.md")
	}, "expected deleted:del.md")
}

func TestWatch_Rename(t *testing.T) {
	root := t.TempDir()
	_ = os.WriteFile(filepath.Join(root, "old.md"), []byte("x"), 0o644)
	rec := startWatch(t, root)

	_ = os.Rename(filepath.Join(root, "old.md"), filepath.Join(root, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("deleted:old.md") && rec.has("created:renamed.md")
	}, "rename should report delete of old and create of new")
}
