package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/taskshell/internal/clock/system"
	"github.com/JakeFAU/taskshell/internal/metrics"
	"github.com/JakeFAU/taskshell/internal/task"
)

const (
	defaultInterval       = 500 * time.Millisecond
	defaultRequestTimeout = 450 * time.Millisecond
)

var (
	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("poller already started")
	// ErrStopped reports that the poller ended because Stop was called.
	ErrStopped = errors.New("poller stopped")
)

// Config controls polling cadence.
//   - Interval: time between status requests (default 500ms).
//   - RequestTimeout: per-request deadline (default 450ms).
//   - RedirectDelay: wait between download activation and redirect. Zero
//     redirects immediately; negative values are treated as zero. The
//     configuration layer supplies the 500ms default.
type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	RedirectDelay  time.Duration
}

// Poller tracks a single task until it reaches a terminal state.
type Poller struct {
	cfg     Config
	fetcher StatusFetcher
	view    View
	clock   Clock
	logger  *zap.Logger

	mu      sync.Mutex
	record  task.Record
	started bool
	stopped bool
	cancel  context.CancelFunc
	err     error

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Poller for taskID. The initial record is PENDING.
func New(
	taskID string,
	indexURL string,
	fetcher StatusFetcher,
	view View,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.RedirectDelay = max(cfg.RedirectDelay, 0)
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		view:    view,
		clock:   clock,
		logger:  logger.With(zap.String("task_id", taskID)),
		record:  task.NewRecord(taskID, indexURL),
		done:    make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(runCtx)
	p.logger.Debug("polling started", zap.Duration("interval", p.cfg.Interval))
	return nil
}

// Stop cancels polling and any pending terminal step. It is safe to call
// multiple times and before Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		cancel := p.cancel
		started := p.started
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if !started {
			close(p.done)
		}
	})
}

// Done is closed once the poller has finished.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the poller finishes or ctx ends, and returns Err.
func (p *Poller) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return fmt.Errorf("wait for poller: %w", ctx.Err())
	}
}

// Err reports why the poller ended. It is nil while running and after a
// terminal flow completed.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped && !p.started {
		return ErrStopped
	}
	return p.err
}

// Record returns a snapshot of the task record.
func (p *Poller) Record() task.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.record
	if rec.Result != nil {
		res := *rec.Result
		rec.Result = &res
	}
	return rec
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.cancel()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.setErr(p.cancelErr(ctx))
			return
		case <-ticker.C:
			rec, terminal := p.tick(ctx)
			if terminal {
				ticker.Stop()
				p.setErr(p.finish(ctx, rec))
				return
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) (task.Record, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	status, err := p.fetcher.FetchStatus(reqCtx, p.Record().TaskID)
	if err != nil {
		if ctx.Err() == nil {
			metrics.ObservePollTick(metrics.PollTransportError)
			p.logger.Debug("status poll failed", zap.Error(err))
		}
		return task.Record{}, false
	}
	metrics.ObservePollTick(metrics.PollOK)

	p.mu.Lock()
	tr, applied := p.record.Merge(status, p.clock.Now())
	rec := p.record
	p.mu.Unlock()

	if !applied {
		p.logger.Debug("status ignored", zap.String("state", string(status.State)))
		return rec, false
	}
	if tr.Changed() {
		p.logger.Info("task state changed",
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
		)
	}

	switch rec.State {
	case task.StateProgress:
		if tr.Reset {
			p.view.Reset(rec)
		}
		p.view.Progress(rec)
	case task.StateSuccess:
		p.view.Progress(rec)
	}
	return rec, rec.State.IsTerminal()
}

func (p *Poller) finish(ctx context.Context, rec task.Record) error {
	metrics.ObserveTaskTerminal(string(rec.State))

	switch rec.State {
	case task.StateSuccess:
		if err := p.view.AwaitDownload(ctx, rec); err != nil {
			return p.interrupted(ctx, "await download", err)
		}
		if p.cfg.RedirectDelay > 0 {
			timer := time.NewTimer(p.cfg.RedirectDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return p.cancelErr(ctx)
			case <-timer.C:
			}
		}
		p.redirect(rec)
	case task.StateFailure:
		message := ""
		if rec.Result != nil {
			message = rec.Result.Message
		}
		p.logger.Warn("task failed", zap.String("message", message))
		if err := p.view.AwaitAcknowledge(ctx, message); err != nil {
			return p.interrupted(ctx, "await acknowledge", err)
		}
		p.redirect(rec)
	case task.StateRevoked:
		p.logger.Info("task revoked")
		p.view.Revoked(rec)
	}
	return nil
}

func (p *Poller) redirect(rec task.Record) {
	p.logger.Debug("redirecting", zap.String("url", rec.IndexURL))
	p.view.Redirect(rec.IndexURL)
}

func (p *Poller) interrupted(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return p.cancelErr(ctx)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func (p *Poller) cancelErr(ctx context.Context) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	return fmt.Errorf("poller canceled: %w", ctx.Err())
}

func (p *Poller) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
