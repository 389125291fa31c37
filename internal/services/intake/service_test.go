package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/services/cooldown"
	"github.com/ternarybob/vetter/internal/storage/memory"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []*models.WorkItem
	err   error
	delay time.Duration
}

func (q *fakeQueue) Submit(ctx context.Context, item *models.WorkItem) (int, error) {
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	q.items = append(q.items, item)
	return len(q.items), nil
}

type fakeGate struct{ busy bool }

func (g *fakeGate) InProgress() bool { return g.busy }

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

type fixture struct {
	service  *Service
	registry *cooldown.Registry
	queue    *fakeQueue
	gate     *fakeGate
	items    *memory.WorkItemStore
	notifier *recordingNotifier
	clock    *common.FakeClock
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	opts := NewOptions(common.NewDefaultConfig())
	opts.UploadDir = t.TempDir()
	if mutate != nil {
		mutate(&opts)
	}
	f := &fixture{
		queue:    &fakeQueue{},
		gate:     &fakeGate{},
		items:    memory.NewWorkItemStore(),
		notifier: &recordingNotifier{},
		clock:    common.NewFakeClock(time.Date(2025, 3, 7, 14, 0, 0, 0, time.UTC)),
	}
	logger := arbor.NewLogger()
	f.registry = cooldown.NewRegistry(memory.NewCooldownStore(), 8*time.Minute, []int64{42}, f.clock, logger)
	f.service = NewService(opts, f.queue, f.gate, f.registry, f.items, f.notifier, f.clock, logger)
	return f
}

// writePDF generates a real PDF with the given number of pages
func writePDF(t *testing.T, dir string, pages int) string {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 12)
	for i := 1; i <= pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, "Essay page")
	}
	path := filepath.Join(dir, "essay.pdf")
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

func TestAccept_QueuesAndCountsPages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	path := writePDF(t, t.TempDir(), 3)

	item, position, err := f.service.Accept(ctx, AcceptRequest{OwnerID: 1001, SourcePath: path, OriginalFilename: "essay.pdf"})
	require.NoError(t, err)

	assert.Equal(t, 1, position)
	assert.Equal(t, 3, item.LocalPageCount)
	assert.Equal(t, models.WorkStatusQueued, item.Status)
	require.Len(t, f.queue.items, 1)
	assert.Same(t, item, f.queue.items[0])

	saved, err := f.items.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "essay.pdf", saved.OriginalFilename)

	require.Len(t, f.notifier.items, 1)
	queued := f.notifier.items[0]
	assert.Equal(t, models.NotifyQueued, queued.Kind)
	assert.Equal(t, "1", queued.Fields["position"])
	assert.NotContains(t, queued.Text, "Estimated wait")
}

func TestAccept_CooldownRejectsThenExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()
	path := writePDF(t, dir, 1)
	req := AcceptRequest{OwnerID: 1001, SourcePath: path, OriginalFilename: "essay.pdf"}

	_, _, err := f.service.Accept(ctx, req)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, _, err = f.service.Accept(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCooldownActive))

	var cooldownErr *CooldownError
	require.True(t, errors.As(err, &cooldownErr))
	assert.Equal(t, 6*time.Minute, cooldownErr.Status.Remaining)
	assert.Contains(t, err.Error(), "6 minutes")
	assert.Len(t, f.queue.items, 1, "rejected before reaching the queue")

	f.clock.Advance(6 * time.Minute)
	_, position, err := f.service.Accept(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, position)
}

func TestAccept_ConcurrentUploadsFromOneOwner(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.delay = 20 * time.Millisecond
	ctx := context.Background()
	path := writePDF(t, t.TempDir(), 1)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.service.Accept(ctx, AcceptRequest{OwnerID: 1001, SourcePath: path, OriginalFilename: "essay.pdf"})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, ErrCooldownActive)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, f.queue.items, 1)
}

func TestAccept_FailedEnqueueReleasesCooldown(t *testing.T) {
	f := newFixture(t, nil)
	f.queue.err = errors.New("queue closed")
	ctx := context.Background()
	path := writePDF(t, t.TempDir(), 1)
	req := AcceptRequest{OwnerID: 1001, SourcePath: path, OriginalFilename: "essay.pdf"}

	_, _, err := f.service.Accept(ctx, req)
	require.Error(t, err)

	status, err := f.registry.Check(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, status.Active)

	f.queue.err = nil
	_, position, err := f.service.Accept(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, position)
}

func TestPrecheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.NoError(t, f.service.Precheck(ctx, 1001))

	require.NoError(t, f.registry.Start(ctx, 1001))
	err := f.service.Precheck(ctx, 1001)
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.NoError(t, f.service.Precheck(ctx, 42))

	f.gate.busy = true
	assert.ErrorIs(t, f.service.Precheck(ctx, 2002), ErrLoginInProgress)
	assert.Empty(t, f.queue.items)
}

func TestAccept_PrivilegedOwnerSkipsCooldown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	path := writePDF(t, t.TempDir(), 1)
	req := AcceptRequest{OwnerID: 42, SourcePath: path, OriginalFilename: "essay.pdf"}

	for i := 0; i < 3; i++ {
		_, _, err := f.service.Accept(ctx, req)
		require.NoError(t, err)
	}
	assert.Len(t, f.queue.items, 3)
}

func TestAccept_RejectsDuringLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.gate.busy = true
	path := writePDF(t, t.TempDir(), 1)

	_, _, err := f.service.Accept(context.Background(), AcceptRequest{OwnerID: 1001, SourcePath: path, OriginalFilename: "essay.pdf"})
	assert.ErrorIs(t, err, ErrLoginInProgress)
	assert.Empty(t, f.queue.items)
}

func TestAccept_RejectsBadFiles(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxFileSize = 16 })
	ctx := context.Background()
	dir := t.TempDir()

	big := filepath.Join(dir, "big.pdf")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", 17)), 0644))
	_, _, err := f.service.Accept(ctx, AcceptRequest{OwnerID: 1001, SourcePath: big, OriginalFilename: "big.pdf"})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	exe := filepath.Join(dir, "tool.exe")
	require.NoError(t, os.WriteFile(exe, []byte("MZ"), 0644))
	_, _, err = f.service.Accept(ctx, AcceptRequest{OwnerID: 1002, SourcePath: exe, OriginalFilename: "tool.exe"})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, _, err = f.service.Accept(ctx, AcceptRequest{OwnerID: 0, SourcePath: exe, OriginalFilename: "tool.exe"})
	assert.Error(t, err)

	assert.Empty(t, f.queue.items)
}

func TestAccept_UnreadablePDFHasNoPageCount(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not really a pdf"), 0644))

	item, _, err := f.service.Accept(context.Background(), AcceptRequest{OwnerID: 1001, SourcePath: path, OriginalFilename: "broken.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 0, item.LocalPageCount)
}

func TestAccept_EstimatesWaitFromPosition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	for owner := int64(1); owner <= 3; owner++ {
		path := writePDF(t, dir, 1)
		_, _, err := f.service.Accept(ctx, AcceptRequest{OwnerID: owner, SourcePath: path, OriginalFilename: "essay.pdf"})
		require.NoError(t, err)
	}

	last := f.notifier.items[2]
	assert.Equal(t, "3", last.Fields["position"])
	assert.Contains(t, last.Text, "Estimated wait: 6 minutes")
	assert.Equal(t, 6*time.Minute, f.service.EstimatedWait(3))
}

func TestStage_NamespacesAndLimits(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxFileSize = 8 })

	path, n, err := f.service.Stage(1001, "../My Essay?.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, "1001_20250307_140000_My Essay_.pdf", filepath.Base(path))

	_, _, err = f.service.Stage(1001, "big.pdf", strings.NewReader("%PDF-1.4 and more"))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "oversized upload removed")
}
