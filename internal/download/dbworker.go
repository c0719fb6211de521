package download

import (
	"context"
	"sync"
	"time"

	"bigtube/internal/logging"
)

// Ledger is the persistence surface LedgerSync writes to.
type Ledger interface {
	RecordState(ctx context.Context, item Item) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
}

// LedgerSync is a Hooks implementation that mirrors task state into a Ledger.
// State changes are written immediately; progress updates are coalesced and
// flushed on a ticker so a chatty download costs one write per interval.
type LedgerSync struct {
	ledger   Ledger
	interval time.Duration

	mu      sync.Mutex
	pending map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLedgerSync creates a syncer flushing progress every interval.
func NewLedgerSync(ledger Ledger, interval time.Duration) *LedgerSync {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LedgerSync{
		ledger:   ledger,
		interval: interval,
		pending:  make(map[string]float64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins flushing progress in the background
func (ls *LedgerSync) Start() {
	go ls.run()
}

// Stop stops the flush loop after a final flush
func (ls *LedgerSync) Stop() {
	ls.cancel()
	<-ls.done
}

func (ls *LedgerSync) run() {
	defer close(ls.done)

	ticker := time.NewTicker(ls.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ls.ctx.Done():
			ls.flush(context.Background())
			return
		case <-ticker.C:
			ls.flush(ls.ctx)
		}
	}
}

// OnProgress records the latest progress for id until the next flush.
func (ls *LedgerSync) OnProgress(id string, progress float64) {
	ls.mu.Lock()
	ls.pending[id] = progress
	ls.mu.Unlock()
}

// OnStateChange writes the item immediately and drops its buffered progress.
func (ls *LedgerSync) OnStateChange(item Item) {
	ls.mu.Lock()
	delete(ls.pending, item.ID)
	ls.mu.Unlock()

	if err := ls.ledger.RecordState(context.Background(), item); err != nil {
		logging.LogDBOperation("record_state", item.ID, err)
		return
	}
	logging.LogDBUpdate("record_state", item.ID, map[string]any{
		"state":    string(item.State),
		"progress": item.Progress,
		"url":      item.URL,
	})
}

func (ls *LedgerSync) flush(ctx context.Context) {
	ls.mu.Lock()
	if len(ls.pending) == 0 {
		ls.mu.Unlock()
		return
	}
	batch := ls.pending
	ls.pending = make(map[string]float64, len(batch))
	ls.mu.Unlock()

	for id, p := range batch {
		if err := ls.ledger.UpdateProgress(ctx, id, p); err != nil {
			logging.LogDBOperation("update_progress", id, err)
		}
	}
}
