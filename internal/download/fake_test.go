package download

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDownloader blocks in Start until the test finishes it or it is cancelled/paused.
type fakeDownloader struct {
	task   *Task
	finish chan Outcome
	stop   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	params    Params
	cancelled bool
	paused    bool
	running   *atomic.Int32
	peak      *atomic.Int32
}

func (f *fakeDownloader) Start(ctx context.Context, p Params, progress ProgressFunc) Outcome {
	f.mu.Lock()
	f.params = p
	f.mu.Unlock()

	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	progress("10.0%", StatusDownloading)
	var out Outcome
	select {
	case out = <-f.finish:
	case <-f.stop:
		f.mu.Lock()
		if f.cancelled {
			out = Outcome{State: StateCancelled}
		} else {
			out = Outcome{State: StatePaused}
		}
		f.mu.Unlock()
	case <-ctx.Done():
		out = Outcome{State: StateCancelled}
	}
	reportOutcome(progress, out)
	return out
}

func (f *fakeDownloader) Cancel() {
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.stop) })
}

func (f *fakeDownloader) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.stop) })
}

func (f *fakeDownloader) Params() Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

func (f *fakeDownloader) PID() int { return 0 }

// fakeFactory records every downloader it builds.
type fakeFactory struct {
	mu      sync.Mutex
	byTask  map[string][]*fakeDownloader
	order   []string
	started chan string
	running atomic.Int32
	peak    atomic.Int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{byTask: make(map[string][]*fakeDownloader), started: make(chan string, 64)}
}

func (ff *fakeFactory) New(t *Task) Downloader {
	d := &fakeDownloader{
		task:    t,
		finish:  make(chan Outcome, 1),
		stop:    make(chan struct{}),
		running: &ff.running,
		peak:    &ff.peak,
	}
	ff.mu.Lock()
	ff.byTask[t.ID] = append(ff.byTask[t.ID], d)
	ff.order = append(ff.order, t.ID)
	ff.mu.Unlock()
	ff.started <- t.ID
	return d
}

func (ff *fakeFactory) last(id string) *fakeDownloader {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ds := ff.byTask[id]
	if len(ds) == 0 {
		return nil
	}
	return ds[len(ds)-1]
}

func (ff *fakeFactory) startOrder() []string {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]string(nil), ff.order...)
}

func (ff *fakeFactory) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case id := <-ff.started:
		if want != "" && id != want {
			t.Fatalf("expected %s to start, got %s", want, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q to start", want)
	}
}

func (ff *fakeFactory) assertNoStart(t *testing.T) {
	t.Helper()
	select {
	case id := <-ff.started:
		t.Fatalf("unexpected start of %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder captures progress callbacks in order.
type recorder struct {
	mu      sync.Mutex
	reports [][2]string
}

func (r *recorder) fn(percent, status string) {
	r.mu.Lock()
	r.reports = append(r.reports, [2]string{percent, status})
	r.mu.Unlock()
}

func (r *recorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reports))
	for _, rep := range r.reports {
		out = append(out, rep[1])
	}
	return out
}

func (r *recorder) all() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.reports...)
}

// recordingHooks captures hook calls.
type recordingHooks struct {
	mu       sync.Mutex
	states   map[string][]State
	progress map[string][]float64
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{states: make(map[string][]State), progress: make(map[string][]float64)}
}

func (h *recordingHooks) OnProgress(id string, p float64) {
	h.mu.Lock()
	h.progress[id] = append(h.progress[id], p)
	h.mu.Unlock()
}

func (h *recordingHooks) OnStateChange(item Item) {
	h.mu.Lock()
	h.states[item.ID] = append(h.states[item.ID], item.State)
	h.mu.Unlock()
}

func (h *recordingHooks) statesFor(id string) []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states[id]...)
}

func newTestManager(t *testing.T, max int, hooks Hooks) (*Manager, *fakeFactory) {
	t.Helper()
	ff := newFakeFactory()
	m := NewManager(Options{
		MaxConcurrent:     max,
		SchedulerInterval: time.Hour,
		NewDownloader:     ff.New,
		Hooks:             hooks,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, ff
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	waitFor(t, string(want)+" state of "+id, func() bool {
		it := m.Get(id)
		return it != nil && it.State == want
	})
}
