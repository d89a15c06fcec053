package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	"github.com/signalsfoundry/unifilar/internal/sim/state"
)

type recordingImporter struct {
	mu    sync.Mutex
	docs  [][]byte
	calls chan struct{}
}

func newRecordingImporter() *recordingImporter {
	return &recordingImporter{calls: make(chan struct{}, 16)}
}

func (r *recordingImporter) Import(_ context.Context, data []byte) error {
	r.mu.Lock()
	r.docs = append(r.docs, append([]byte(nil), data...))
	r.mu.Unlock()
	r.calls <- struct{}{}
	return nil
}

func (r *recordingImporter) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.docs) == 0 {
		return ""
	}
	return string(r.docs[len(r.docs)-1])
}

func startWatcher(t *testing.T, w *DiagramWatcher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Run did not return after cancel")
		}
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "diagram.json")
	imp := newRecordingImporter()
	w, err := New(path, imp, logging.Noop(), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startWatcher(t, w)
	defer stop()

	if err := os.WriteFile(path, []byte(`{"celdas":{}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-imp.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("no reload after write")
	}
	if got := imp.last(); got != `{"celdas":{}}` {
		t.Errorf("imported %q", got)
	}
	if s := w.Stats(); s.Reloads < 1 || s.Events < 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	imp := newRecordingImporter()
	w, err := New(filepath.Join(dir, "diagram.json"), imp, logging.Noop(), WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startWatcher(t, w)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-imp.calls:
		t.Fatalf("reloaded for an unrelated file")
	case <-time.After(150 * time.Millisecond):
	}
	stop()
}

func TestReloadMissingFileIsNoop(t *testing.T) {
	imp := newRecordingImporter()
	w, err := New(filepath.Join(t.TempDir(), "absent.json"), imp, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(imp.calls) != 0 {
		t.Fatalf("importer called for a missing file")
	}
}

func TestReloadIntoDiagramState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diagram.json")
	doc := `{"celdas":{"0,0":"#000000","1,0":"#000000"},"textos":[],"bornes":[]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	st := state.NewDiagramState(logging.Noop())
	w, err := New(path, st, logging.Noop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := len(st.Snapshot().Cells); got != 2 {
		t.Fatalf("cells after reload = %d, want 2", got)
	}

	// A corrupt document leaves the diagram alone.
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err = w.Reload(context.Background())
	if !errors.Is(err, core.ErrCorruptDiagram) {
		t.Fatalf("Reload(corrupt) = %v, want ErrCorruptDiagram", err)
	}
	if got := len(st.Snapshot().Cells); got != 2 {
		t.Fatalf("cells after corrupt reload = %d, want 2", got)
	}
	if s := w.Stats(); s.Reloads != 1 || s.Errors != 1 {
		t.Errorf("stats = %+v, want 1 reload and 1 error", s)
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	if _, err := New("", newRecordingImporter(), nil); err == nil {
		t.Errorf("New(\"\") = nil error")
	}
	if _, err := New(filepath.Join(t.TempDir(), "d.json"), nil, nil); err == nil {
		t.Errorf("New(nil importer) = nil error")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing", "d.json"), newRecordingImporter(), nil); err == nil {
		t.Errorf("New(missing dir) = nil error")
	}
}
