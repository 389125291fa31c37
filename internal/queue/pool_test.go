package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/services/session"
	"github.com/ternarybob/vetter/internal/storage/memory"
)

type processFunc func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error

func (f processFunc) Process(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
	return f(ctx, slot, item)
}

type fakeSessions struct {
	mu        sync.Mutex
	acquired  []int
	teardowns []int
}

func (s *fakeSessions) Acquire(ctx context.Context, slot *session.Slot) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = append(s.acquired, slot.WorkerID)
	return &session.Session{OwnerWorker: slot.WorkerID}, nil
}

func (s *fakeSessions) Teardown(slot *session.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns = append(s.teardowns, slot.WorkerID)
}

func (s *fakeSessions) snapshot() ([]int, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.acquired...), append([]int(nil), s.teardowns...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []models.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, msg models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, msg)
	return nil
}

func (n *recordingNotifier) SendFile(ctx context.Context, ownerID int64, path, caption string) error {
	return nil
}

func (n *recordingNotifier) kinds(itemID string) []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []models.NotificationKind
	for _, item := range n.items {
		if item.ItemID == itemID {
			kinds = append(kinds, item.Kind)
		}
	}
	return kinds
}

type poolFixture struct {
	pool     *Pool
	sessions *fakeSessions
	store    *memory.WorkItemStore
	notifier *recordingNotifier
	clock    *common.FakeClock
}

func newPool(t *testing.T, mutate func(*Config), processor Processor) *poolFixture {
	t.Helper()
	config := NewDefaultConfig()
	config.JoinTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&config)
	}
	f := &poolFixture{
		sessions: &fakeSessions{},
		store:    memory.NewWorkItemStore(),
		notifier: &recordingNotifier{},
		clock:    common.NewFakeClock(time.Date(2025, 3, 7, 14, 0, 0, 0, time.UTC)),
	}
	f.pool = NewPool(config, processor, f.sessions, f.store, f.notifier, f.clock, arbor.NewLogger())
	return f
}

func TestPool_ProcessesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	f := newPool(t, nil, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, item.ID)
		assert.Equal(t, 1, slot.WorkerID)
		return nil
	}))

	ctx := context.Background()
	var want []string
	for i := int64(1); i <= 4; i++ {
		item := newItem(i)
		want = append(want, item.ID)
		_, err := f.pool.Submit(ctx, item)
		require.NoError(t, err)
	}

	require.NoError(t, f.pool.Start(ctx))
	require.NoError(t, f.pool.Stop(ctx))

	assert.Equal(t, want, order, "queued items drain ahead of the stop signal")

	saved, err := f.store.GetWorkItem(ctx, want[0])
	require.NoError(t, err)
	assert.Equal(t, models.WorkStatusCompleted, saved.Status)
	assert.Equal(t, 1, saved.WorkerID)
	assert.Equal(t, []models.NotificationKind{models.NotifyProcessing}, f.notifier.kinds(want[0]))
}

func TestPool_FailureMarksItemAndContinues(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "1_20250307_140000_essay.pdf")
	require.NoError(t, os.WriteFile(source, []byte("%PDF"), 0644))

	failing := newItem(1)
	failing.SourcePath = source
	next := newItem(2)

	f := newPool(t, nil, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		if item.ID == failing.ID {
			return faults.NotFound("search", "submission not found in the list", nil)
		}
		return nil
	}))

	ctx := context.Background()
	_, err := f.pool.Submit(ctx, failing)
	require.NoError(t, err)
	_, err = f.pool.Submit(ctx, next)
	require.NoError(t, err)
	require.NoError(t, f.pool.Start(ctx))
	require.NoError(t, f.pool.Stop(ctx))

	saved, err := f.store.GetWorkItem(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkStatusFailed, saved.Status)
	assert.Equal(t, "not_found", saved.ErrorKind)
	assert.Contains(t, saved.LastError, "submission not found")
	assert.Equal(t, []models.NotificationKind{models.NotifyProcessing, models.NotifyNotFound}, f.notifier.kinds(failing.ID))

	_, err = os.Stat(source)
	assert.True(t, errors.Is(err, os.ErrNotExist), "source removed on failure")

	saved, err = f.store.GetWorkItem(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkStatusCompleted, saved.Status)

	_, teardowns := f.sessions.snapshot()
	assert.Equal(t, []int{1}, teardowns, "only the shutdown teardown")
}

func TestPool_SessionFatalTearsDown(t *testing.T) {
	f := newPool(t, nil, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		return faults.SessionFatal("reload", "target closed", nil)
	}))

	ctx := context.Background()
	item := newItem(1)
	_, err := f.pool.Submit(ctx, item)
	require.NoError(t, err)
	require.NoError(t, f.pool.Start(ctx))
	require.NoError(t, f.pool.Stop(ctx))

	_, teardowns := f.sessions.snapshot()
	assert.Equal(t, []int{1, 1}, teardowns, "once for the fault, once at shutdown")
	assert.Equal(t, []models.NotificationKind{models.NotifyProcessing, models.NotifyError}, f.notifier.kinds(item.ID))
}

func TestPool_PanicBecomesItemFailure(t *testing.T) {
	f := newPool(t, nil, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		if item.OwnerID == 1 {
			panic("nil page")
		}
		return nil
	}))

	ctx := context.Background()
	first, second := newItem(1), newItem(2)
	_, err := f.pool.Submit(ctx, first)
	require.NoError(t, err)
	_, err = f.pool.Submit(ctx, second)
	require.NoError(t, err)
	require.NoError(t, f.pool.Start(ctx))
	require.NoError(t, f.pool.Stop(ctx))

	saved, err := f.store.GetWorkItem(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkStatusFailed, saved.Status)
	assert.Equal(t, "item_fatal", saved.ErrorKind)

	saved, err = f.store.GetWorkItem(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkStatusCompleted, saved.Status)
}

func TestPool_StopRejectsNewItems(t *testing.T) {
	f := newPool(t, func(c *Config) { c.Workers = 2; c.MaxWorkers = 2 }, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, f.pool.Start(ctx))
	require.NoError(t, f.pool.Stop(ctx))

	_, err := f.pool.Submit(ctx, newItem(1))
	assert.ErrorIs(t, err, ErrQueueClosed)

	_, teardowns := f.sessions.snapshot()
	assert.ElementsMatch(t, []int{1, 2}, teardowns)
	assert.False(t, f.pool.Stats().Running)
}

func TestPool_StopJoinTimeout(t *testing.T) {
	started := make(chan struct{})
	f := newPool(t, func(c *Config) { c.JoinTimeout = 50 * time.Millisecond }, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx := context.Background()
	item := newItem(1)
	_, err := f.pool.Submit(ctx, item)
	require.NoError(t, err)
	require.NoError(t, f.pool.Start(ctx))
	<-started

	err = f.pool.Stop(ctx)
	assert.ErrorIs(t, err, ErrJoinTimeout)

	saved, err := f.store.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", saved.ErrorKind)
}

func TestPool_ElasticScaling(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 10)
	f := newPool(t, func(c *Config) {
		c.Elastic = true
		c.Workers = 1
		c.MaxWorkers = 2
		c.ScaleThreshold = 2
	}, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		started <- item.ID
		<-release
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, f.pool.Start(ctx))

	first := newItem(1)
	_, err := f.pool.Submit(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, <-started)

	_, err = f.pool.Submit(ctx, newItem(2))
	require.NoError(t, err)
	assert.Equal(t, 1, f.pool.Stats().Workers, "depth 1 stays on one worker")

	_, err = f.pool.Submit(ctx, newItem(3))
	require.NoError(t, err)
	assert.Equal(t, 2, f.pool.Stats().Workers)

	_, err = f.pool.Submit(ctx, newItem(4))
	require.NoError(t, err)
	assert.Equal(t, 2, f.pool.Stats().Workers, "capped at max workers")

	close(release)
	require.NoError(t, f.pool.Stop(ctx))
	assert.Contains(t, f.clock.Sleeps(), 5*time.Second, "second worker staggered")
}

func TestPool_PreLoginChainsWorkers(t *testing.T) {
	f := newPool(t, func(c *Config) {
		c.Workers = 3
		c.MaxWorkers = 3
		c.PreLogin = true
	}, processFunc(func(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, f.pool.Start(ctx))
	require.NoError(t, f.pool.Stop(ctx))

	acquired, _ := f.sessions.snapshot()
	assert.Equal(t, []int{1, 2, 3}, acquired)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, f.clock.Sleeps())
}
