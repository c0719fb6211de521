package download

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bigtube/internal/logging"
)

// Options configures a Manager.
type Options struct {
	MaxConcurrent     int
	SchedulerInterval time.Duration
	NewDownloader     DownloaderFactory
	Hooks             Hooks
	Now               func() time.Time
}

type activeDownload struct {
	task    *Task
	dl      Downloader
	started time.Time

	// guarded by Manager.mu
	cancelled bool // CancelTask was called
	pausing   bool // PauseTask was called
	resume    bool // ResumeTask arrived before the run parked
}

// Manager queues download tasks, runs at most MaxConcurrent of them at once
// and promotes scheduled tasks when they become due.
//
// A task lives in exactly one of scheduled, pending, active or paused.
// All four are guarded by mu; callbacks are posted to a dispatcher and never
// run while mu is held.
type Manager struct {
	mu            sync.Mutex
	maxConcurrent int
	active        map[string]*activeDownload
	pending       []*Task
	scheduled     []*Task
	paused        map[string]*Task
	closing       bool

	newDownloader DownloaderFactory
	hooks         Hooks
	registry      *ItemRegistry
	events        *dispatcher
	now           func() time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	sched *scheduler
}

// NewManager creates a manager and starts its scheduler loop.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.SchedulerInterval <= 0 {
		opts.SchedulerInterval = 5 * time.Second
	}
	if opts.NewDownloader == nil {
		opts.NewDownloader = Factory(DownloaderOptions{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		maxConcurrent: opts.MaxConcurrent,
		active:        make(map[string]*activeDownload),
		paused:        make(map[string]*Task),
		newDownloader: opts.NewDownloader,
		hooks:         opts.Hooks,
		registry:      NewItemRegistry(128),
		events:        newDispatcher(),
		now:           opts.Now,
		runCtx:        ctx,
		runCancel:     cancel,
	}
	m.sched = newScheduler(m, opts.SchedulerInterval)
	m.sched.Start()
	return m
}

// AddDownload appends a task to the pending queue and starts it when a slot is free.
func (m *Manager) AddDownload(req Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", ErrEmptyURL
	}
	t := newTask(req, time.Time{}, m.now())

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	m.registry.Create(t, StateQueued)
	m.pending = append(m.pending, t)
	queueLen := len(m.pending)
	m.postReport(t, "", StatusQueued)
	m.postState(t.ID)
	m.mu.Unlock()

	logging.LogTaskQueued(t.ID, t.URL, t.Title, queueLen)
	m.fill()
	return t.ID, nil
}

// ScheduleDownload parks a task until at, then queues it like AddDownload.
func (m *Manager) ScheduleDownload(at time.Time, req Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", ErrEmptyURL
	}
	t := newTask(req, at, m.now())

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return "", ErrShuttingDown
	}
	m.registry.Create(t, StateScheduled)
	// keep ascending order; equal times stay in insertion order
	i := sort.Search(len(m.scheduled), func(i int) bool {
		return m.scheduled[i].ScheduledAt.After(at)
	})
	m.scheduled = append(m.scheduled, nil)
	copy(m.scheduled[i+1:], m.scheduled[i:])
	m.scheduled[i] = t
	m.postReport(t, "", StatusScheduled)
	m.postState(t.ID)
	m.mu.Unlock()

	logging.LogTaskScheduled(t.ID, t.Title, at)
	return t.ID, nil
}

// promoteDue moves every scheduled task due at now into the pending queue.
func (m *Manager) promoteDue(now time.Time) int {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return 0
	}
	n := 0
	for n < len(m.scheduled) && !m.scheduled[n].ScheduledAt.After(now) {
		n++
	}
	due := m.scheduled[:n:n]
	m.scheduled = append([]*Task(nil), m.scheduled[n:]...)
	for _, t := range due {
		m.pending = append(m.pending, t)
		m.registry.SetState(t.ID, StateQueued, "")
		m.postReport(t, "", StatusQueued)
		m.postState(t.ID)
	}
	m.mu.Unlock()

	for _, t := range due {
		logging.LogTaskDue(t.ID, t.Title)
	}
	if n > 0 {
		m.fill()
	}
	return n
}

// fill starts pending tasks FIFO while slots remain.
func (m *Manager) fill() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.closing && len(m.active) < m.maxConcurrent && len(m.pending) > 0 {
		t := m.pending[0]
		m.pending[0] = nil
		m.pending = m.pending[1:]
		m.startLocked(t)
	}
}

func (m *Manager) startLocked(t *Task) {
	dl := m.newDownloader(t)
	ad := &activeDownload{task: t, dl: dl, started: m.now()}
	m.active[t.ID] = ad
	m.registry.SetState(t.ID, StateDownloading, "")
	if t.OnStart != nil {
		onStart := t.OnStart
		m.events.post(func() { onStart(dl) })
	}
	m.postState(t.ID)
	logging.LogDownloadStart(t.ID, t.URL, len(m.active), m.maxConcurrent)

	m.wg.Add(1)
	go m.run(ad)
}

func (m *Manager) run(ad *activeDownload) {
	defer m.wg.Done()
	t := ad.task
	out := ad.dl.Start(m.runCtx, t.Params(), func(percent, status string) {
		m.onProgress(t, percent, status)
	})
	m.complete(ad, out)
	m.fill()
}

// onProgress records a downloader report and forwards it to the task callback and hooks.
func (m *Manager) onProgress(t *Task, percent, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	progress, changed, err := m.registry.SetProgress(t.ID, percent, status)
	if err != nil {
		return
	}
	m.postReport(t, percent, status)
	if changed {
		logging.LogDownloadProgress(t.ID, progress)
		if m.hooks != nil {
			hooks, id := m.hooks, t.ID
			m.events.post(func() { hooks.OnProgress(id, progress) })
		}
	}
}

// complete removes a finished run from active and records its outcome.
func (m *Manager) complete(ad *activeDownload, out Outcome) {
	t := ad.task

	m.mu.Lock()
	delete(m.active, t.ID)
	if out.Filename != "" {
		m.registry.SetFilename(t.ID, out.Filename)
	}
	state := out.State
	if m.closing && !ad.cancelled && (state == StateCancelled || state == StatePaused) {
		// stopped by Shutdown, not by the user
		state = StateInterrupted
		m.postReport(t, "", StatusInterrupted)
	}
	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
		// reduce noise from long command errors
		if len(errMsg) > 512 {
			errMsg = errMsg[:512]
		}
	}
	m.registry.SetState(t.ID, state, errMsg)
	m.postState(t.ID)
	requeued := false
	if state == StatePaused {
		if ad.resume {
			m.requeueLocked(t)
			requeued = true
		} else {
			m.paused[t.ID] = t
		}
	}
	m.mu.Unlock()

	if requeued {
		logging.LogStateChange(t.ID, t.URL, "resumed")
	}

	switch state {
	case StateCompleted:
		logging.LogDownloadComplete(t.ID, t.Title, m.now().Sub(ad.started))
	case StateFailed:
		logging.LogDownloadError(t.ID, "download failed", out.Err)
	default:
		logging.LogStateChange(t.ID, t.URL, string(state))
	}
}

// SetMaxConcurrent changes the slot limit. Values below 1 become 1.
// Lowering the limit never stops running downloads.
func (m *Manager) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	m.maxConcurrent = n
	m.mu.Unlock()
	m.fill()
}

// MaxConcurrent returns the current slot limit.
func (m *Manager) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// CancelTask stops an active task or drops a pending, scheduled or paused one.
// It returns false for unknown ids.
func (m *Manager) CancelTask(id string) bool {
	m.mu.Lock()
	if ad, ok := m.active[id]; ok {
		ad.cancelled = true
		ad.resume = false
		m.mu.Unlock()
		ad.dl.Cancel()
		return true
	}

	t := m.removeWaitingLocked(id)
	if t == nil {
		m.mu.Unlock()
		return false
	}
	m.registry.SetState(id, StateCancelled, "")
	m.postReport(t, "", StatusCancelled)
	m.postState(id)
	m.mu.Unlock()

	logging.LogStateChange(id, t.URL, string(StateCancelled))
	return true
}

// removeWaitingLocked drops id from pending, scheduled or paused.
func (m *Manager) removeWaitingLocked(id string) *Task {
	for i, t := range m.pending {
		if t.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return t
		}
	}
	for i, t := range m.scheduled {
		if t.ID == id {
			m.scheduled = append(m.scheduled[:i], m.scheduled[i+1:]...)
			return t
		}
	}
	if t, ok := m.paused[id]; ok {
		delete(m.paused, id)
		return t
	}
	return nil
}

// PauseTask terminates an active download and parks it for ResumeTask.
func (m *Manager) PauseTask(id string) bool {
	m.mu.Lock()
	ad, ok := m.active[id]
	if ok {
		ad.pausing = true
		ad.resume = false
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	ad.dl.Pause()
	return true
}

// ResumeTask re-queues a paused task at the tail of pending without force-overwrite.
// A task still stopping after PauseTask is re-queued as soon as it parks.
func (m *Manager) ResumeTask(id string) (bool, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false, ErrShuttingDown
	}
	if ad, ok := m.active[id]; ok && ad.pausing && !ad.cancelled {
		ad.resume = true
		m.mu.Unlock()
		return true, nil
	}
	t, ok := m.paused[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.paused, id)
	m.requeueLocked(t)
	m.mu.Unlock()

	logging.LogStateChange(id, t.URL, "resumed")
	m.fill()
	return true, nil
}

// requeueLocked appends a copy of a paused task to pending, never overwriting.
func (m *Manager) requeueLocked(t *Task) {
	resumed := *t
	resumed.ForceOverwrite = false
	m.pending = append(m.pending, &resumed)
	m.registry.SetState(t.ID, StateQueued, "")
	m.postReport(&resumed, "", StatusQueued)
	m.postState(t.ID)
}

// Snapshot returns copies of task views. If id is non-empty, returns at most that item.
func (m *Manager) Snapshot(id string) []*Item {
	return m.registry.Snapshot(id)
}

// Get returns the view of a single task, or nil.
func (m *Manager) Get(id string) *Item {
	return m.registry.Get(id)
}

// Prune drops finished task views older than age.
func (m *Manager) Prune(age time.Duration) int {
	return m.registry.PruneTerminal(m.now().Add(-age))
}

// Stats summarises queue occupancy.
type Stats struct {
	Active        int `json:"active"`
	Pending       int `json:"pending"`
	Scheduled     int `json:"scheduled"`
	Paused        int `json:"paused"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Stats returns the current occupancy of each collection.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:        len(m.active),
		Pending:       len(m.pending),
		Scheduled:     len(m.scheduled),
		Paused:        len(m.paused),
		MaxConcurrent: m.maxConcurrent,
	}
}

// Shutdown stops accepting work, stops waiting and running tasks and waits
// for running downloads to exit or ctx to end. Tasks it stops end
// StateInterrupted, not StateCancelled, so persistence keeps them.
// Safe to call multiple times.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return m.wait(ctx)
	}
	m.closing = true
	waiting := make([]*Task, 0, len(m.pending)+len(m.scheduled)+len(m.paused))
	waiting = append(waiting, m.pending...)
	waiting = append(waiting, m.scheduled...)
	for _, t := range m.paused {
		waiting = append(waiting, t)
	}
	m.pending, m.scheduled = nil, nil
	m.paused = make(map[string]*Task)
	for _, t := range waiting {
		m.registry.SetState(t.ID, StateInterrupted, "")
		m.postReport(t, "", StatusInterrupted)
		m.postState(t.ID)
	}
	running := make([]Downloader, 0, len(m.active))
	for _, ad := range m.active {
		running = append(running, ad.dl)
	}
	m.mu.Unlock()

	m.sched.Stop()
	for _, dl := range running {
		dl.Cancel()
	}
	m.runCancel()
	return m.wait(ctx)
}

func (m *Manager) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.events.close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postReport queues the task's progress callback.
func (m *Manager) postReport(t *Task, percent, status string) {
	if t.Progress == nil {
		return
	}
	fn := t.Progress
	m.events.post(func() { fn(percent, status) })
}

// postState queues OnStateChange with the current view of id.
func (m *Manager) postState(id string) {
	if m.hooks == nil {
		return
	}
	it := m.registry.Get(id)
	if it == nil {
		return
	}
	hooks, item := m.hooks, *it
	m.events.post(func() { hooks.OnStateChange(item) })
}
