// Package queue dispatches work items to a pool of workers, each owning one
// automated session.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/services/session"
	"golang.org/x/sync/errgroup"
)

// ErrJoinTimeout is returned by Stop when workers outlive the join timeout
var ErrJoinTimeout = errors.New("workers did not stop within the join timeout")

// Processor runs one item to completion on the worker's slot
type Processor interface {
	Process(ctx context.Context, slot *session.Slot, item *models.WorkItem) error
}

// Sessions is the part of the session manager the pool drives
type Sessions interface {
	Acquire(ctx context.Context, slot *session.Slot) (*session.Session, error)
	Teardown(slot *session.Slot)
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Depth   int  `json:"depth"`
	Workers int  `json:"workers"`
	Running bool `json:"running"`
}

type worker struct {
	id   int
	slot *session.Slot
}

// Pool owns the queue and its workers
type Pool struct {
	config    Config
	queue     *Queue
	processor Processor
	sessions  Sessions
	items     interfaces.WorkItemStorage
	notifier  interfaces.Notifier
	clock     common.Clock
	logger    arbor.ILogger

	mu        sync.Mutex
	workers   []*worker
	lastReady chan struct{}
	group     errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	stopping  bool
}

// NewPool creates a Pool. items and notifier may be nil.
func NewPool(
	config Config,
	processor Processor,
	sessions Sessions,
	items interfaces.WorkItemStorage,
	notifier interfaces.Notifier,
	clock common.Clock,
	logger arbor.ILogger,
) *Pool {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxWorkers < config.Workers {
		config.MaxWorkers = config.Workers
	}
	return &Pool{
		config:    config,
		queue:     New(config.Capacity),
		processor: processor,
		sessions:  sessions,
		items:     items,
		notifier:  notifier,
		clock:     clock,
		logger:    logger,
	}
}

// Queue exposes the underlying queue
func (p *Pool) Queue() *Queue {
	return p.queue
}

// Start launches the baseline workers
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopping {
		return fmt.Errorf("pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.logger.Info().
		Int("workers", p.config.Workers).
		Int("max_workers", p.config.MaxWorkers).
		Bool("elastic", p.config.Elastic).
		Int("capacity", p.config.Capacity).
		Msg("Starting worker pool")

	for i := 0; i < p.config.Workers; i++ {
		p.startWorkerLocked()
	}
	return nil
}

// startWorkerLocked adds one worker chained to the previous one's ready signal. Caller holds mu.
func (p *Pool) startWorkerLocked() {
	w := &worker{id: len(p.workers) + 1}
	w.slot = session.NewSlot(w.id)
	p.workers = append(p.workers, w)

	prev := p.lastReady
	ready := make(chan struct{})
	p.lastReady = ready

	ctx := p.ctx
	p.group.Go(func() error {
		p.run(ctx, w, prev, ready)
		return nil
	})
}

// Submit enqueues item and returns its 1-based position. In elastic mode a backed-up
// queue gets another worker.
func (p *Pool) Submit(ctx context.Context, item *models.WorkItem) (int, error) {
	position, err := p.queue.Enqueue(ctx, item)
	if err != nil {
		return 0, err
	}

	p.logger.Info().
		Str("item_id", item.ID).
		Int64("owner_id", item.OwnerID).
		Int("position", position).
		Msg("Item queued")

	if p.config.Elastic {
		p.scale()
	}
	return position, nil
}

func (p *Pool) scale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.stopping {
		return
	}
	depth := p.queue.Len()
	if depth < p.config.ScaleThreshold || len(p.workers) >= p.config.MaxWorkers {
		return
	}
	p.startWorkerLocked()
	p.logger.Info().
		Int("depth", depth).
		Int("workers", len(p.workers)).
		Msg("Queue backed up, added worker")
}

// Stats returns the queue depth and live worker count
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Depth: p.queue.Len(), Workers: len(p.workers), Running: p.running && !p.stopping}
}

// Stop closes the queue, sends one sentinel per worker and waits up to the join timeout.
// Items still queued ahead of the sentinels are processed first. Every worker's session
// is torn down before Stop returns.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	workers := append([]*worker(nil), p.workers...)
	p.queue.Close()
	for range workers {
		p.queue.PushSentinel()
	}
	p.mu.Unlock()

	p.logger.Info().Int("workers", len(workers)).Msg("Stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.group.Wait()
		close(done)
	}()

	joinCtx, cancel := context.WithTimeout(ctx, p.config.JoinTimeout)
	defer cancel()

	var err error
	select {
	case <-done:
	case <-joinCtx.Done():
		err = ErrJoinTimeout
		p.logger.Warn().Dur("join_timeout", p.config.JoinTimeout).Msg("Workers still busy, cancelling")
		p.cancel()
		<-done
	}
	p.cancel()

	for _, w := range workers {
		p.sessions.Teardown(w.slot)
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info().Msg("Worker pool stopped")
	return err
}
