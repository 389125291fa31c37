package retrieval

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/locators"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/services/browser/browsertest"
)

const inboxPage = "https://platform.test/t_inbox.asp?lang=en_us&aid=4242"

const scoredHTML = `<html><body><table>
<tr class="student--1"><td class="ibox_title"><a>Older Essay</a></td><td><span class="or_full_version"><a href="#">view</a></span><span class="or-percentage">40%</span></td></tr>
<tr class="student--1"><td class="ibox_title"><a>071405334</a></td><td><span class="or_full_version"><a href="#">view</a></span><span class="or-percentage">12%</span></td></tr>
</table></body></html>`

const unscoredHTML = `<html><body><table>
<tr class="student--1"><td class="ibox_title"><a>Older Essay</a></td><td><span class="or_full_version"><a href="#">view</a></span><span class="or-percentage">40%</span></td></tr>
<tr class="student--1"><td class="ibox_title"><a>071405334</a></td><td><span class="or-percentage">--</span></td></tr>
</table></body></html>`

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

func (n *recordingNotifier) byKind(kind models.NotificationKind) []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Notification
	for _, item := range n.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

// viewerPage scripts a report viewer with a download menu and both items
func viewerPage(aiBadge string) *browsertest.Page {
	viewer := browsertest.NewPage("https://platform.test/viewer")
	viewer.Set("tii-sws-download-btn-mfe", &browsertest.Element{
		Visible: true,
		OnClick: func(p *browsertest.Page) {
			p.Element("dialog.popover-wrapper.open").Visible = true
		},
	})
	viewer.Set("dialog.popover-wrapper.open", &browsertest.Element{})
	viewer.Set(`button[data-px="SimReportDownloadClicked"]`, &browsertest.Element{Visible: true})
	viewer.Set(`button[data-px="AIWritingReportDownload"]`, &browsertest.Element{Visible: true})
	viewer.AddDownload(`button[data-px="SimReportDownloadClicked"]`, "%PDF similarity")
	viewer.AddDownload(`button[data-px="AIWritingReportDownload"]`, "%PDF ai")
	if aiBadge != "" {
		viewer.Set(".ai-writing-badge .label", &browsertest.Element{Visible: true, Texts: []string{"", aiBadge}})
	}
	return viewer
}

// listPage serves an inbox where the submission already has a score, with the viewer as popup
func listPage(viewer *browsertest.Page) *browsertest.Page {
	page := browsertest.NewPage(inboxPage)
	page.Set(`th[title*="Turnitin paper id"]`, &browsertest.Element{Visible: true})
	page.SetHTML(scoredHTML)
	page.Popup = viewer
	return page
}

type fixture struct {
	machine  *Machine
	clock    *common.FakeClock
	notifier *recordingNotifier
	dir      string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	opts := NewOptions(common.NewDefaultConfig())
	opts.DownloadDir = t.TempDir()
	if mutate != nil {
		mutate(&opts)
	}
	f := &fixture{
		clock:    common.NewFakeClock(time.Date(2025, 3, 7, 14, 9, 0, 0, time.UTC)),
		notifier: &recordingNotifier{},
		dir:      opts.DownloadDir,
	}
	f.machine = NewMachine(opts, locators.Default(), &sync.Mutex{}, f.notifier, f.clock, arbor.NewLogger())
	return f
}

func request() Request {
	return Request{ItemID: "item-1", OwnerID: 1001, Title: "071405334"}
}

func TestRun_DownloadsBothReports(t *testing.T) {
	f := newFixture(t, nil)
	viewer := viewerPage("12%")
	page := listPage(viewer)

	result, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)

	artifacts := result.Artifacts
	assert.True(t, artifacts.SimilarityAvailable)
	assert.True(t, artifacts.AIAvailable)
	assert.Equal(t, "12%", artifacts.SimilarityScore)
	assert.Equal(t, "12%", artifacts.AIScore)
	assert.Len(t, artifacts.Paths(), 2)

	data, err := os.ReadFile(artifacts.SimilarityPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF similarity", string(data))
	assert.Contains(t, artifacts.AIPath, "1001_20250307_")

	assert.Equal(t, 2, page.Clicked(`th[title*="Turnitin paper id"]`))
	// already on the inbox, so only the final return navigates
	assert.Equal(t, []string{"https://www.turnitin.com/t_inbox.asp?lang=en_us&aid=4242"}, page.Navigations())
	assert.True(t, viewer.Closed())

	assert.Equal(t, []State{
		StateNavigatingToList,
		StateSortingForRecency,
		StateSearchingForTitle,
		StateOpeningResultView,
		StateAwaitingAnalysisReadiness,
		StateValidatingAIScore,
		StateDownloadingSimilarity,
		StateDownloadingAIWriting,
		StateDone,
	}, result.States)

	assert.Len(t, f.notifier.byKind(models.NotifyReportReady), 1)
	require.Len(t, f.notifier.byKind(models.NotifyAIScore), 1)
	assert.Equal(t, "12%", f.notifier.byKind(models.NotifyAIScore)[0].Fields["ai_score"])
}

func TestRun_AISentinelSkipsAIReport(t *testing.T) {
	f := newFixture(t, nil)
	viewer := viewerPage("--%")
	page := listPage(viewer)

	result, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)

	artifacts := result.Artifacts
	assert.True(t, artifacts.SimilarityAvailable)
	assert.False(t, artifacts.AIAvailable)
	assert.Contains(t, artifacts.AIUnavailableReason, "--%")
	assert.Equal(t, []string{artifacts.SimilarityPath}, artifacts.Paths())
	assert.Equal(t, 1, viewer.Clicked("tii-sws-download-btn-mfe"), "menu opened for the similarity report only")
	assert.NotContains(t, viewer.Calls(), `download:button[data-px="AIWritingReportDownload"]`)
	assert.Empty(t, f.notifier.byKind(models.NotifyAIScore))
}

func TestRun_NonPercentBadgeSkipsAIReport(t *testing.T) {
	f := newFixture(t, nil)
	viewer := viewerPage("N/A")
	page := listPage(viewer)

	result, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)

	artifacts := result.Artifacts
	assert.False(t, artifacts.AIAvailable)
	assert.Empty(t, artifacts.AIPath)
	assert.Contains(t, artifacts.AIUnavailableReason, "N/A")
	assert.Equal(t, []string{artifacts.SimilarityPath}, artifacts.Paths())
	assert.NotContains(t, viewer.Calls(), `download:button[data-px="AIWritingReportDownload"]`)
	assert.Empty(t, f.notifier.byKind(models.NotifyAIScore))
}

func TestRun_MissingBadgeAssumesAIAvailable(t *testing.T) {
	f := newFixture(t, nil)
	page := listPage(viewerPage(""))

	result, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)
	assert.True(t, result.Artifacts.AIAvailable)
	assert.NotEmpty(t, result.Artifacts.AIPath)
	assert.Empty(t, result.Artifacts.AIScore)
}

func TestRun_NotFoundAfterSearchAttempts(t *testing.T) {
	f := newFixture(t, nil)
	page := listPage(viewerPage("12%"))

	_, err := f.machine.Run(context.Background(), page, Request{ItemID: "item-2", OwnerID: 1001, Title: "999999999"})
	require.Error(t, err)
	assert.Equal(t, faults.KindNotFound, faults.KindOf(err))
	assert.Equal(t, 5, page.Reloads())

	var searchSleeps int
	for _, d := range f.clock.Sleeps() {
		if d == 10*time.Second {
			searchSleeps++
		}
	}
	assert.Equal(t, 4, searchSleeps)
}

func TestRun_WaitsForScore(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ScoreAttempts = 3 })
	page := listPage(viewerPage("12%"))
	page.SetHTML(unscoredHTML)

	reloads := 0
	page.OnReload = func(p *browsertest.Page) {
		reloads++
		if reloads == 2 {
			p.SetHTML(scoredHTML)
		}
	}

	result, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)
	assert.Equal(t, 2, result.ScoreAttempts)
	assert.Equal(t, "12%", result.Artifacts.SimilarityScore)
}

func TestRun_ScoreNeverAppears(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ScoreAttempts = 3 })
	page := listPage(viewerPage("12%"))
	page.SetHTML(unscoredHTML)

	result, err := f.machine.Run(context.Background(), page, request())
	require.Error(t, err)
	assert.Equal(t, faults.KindNotReady, faults.KindOf(err))
	assert.Equal(t, 3, result.ScoreAttempts)
	assert.Equal(t, StateFailed, result.States[len(result.States)-1])
}

func TestRun_ReportsNeverReady(t *testing.T) {
	f := newFixture(t, nil)
	viewer := browsertest.NewPage("https://platform.test/viewer")
	page := listPage(viewer)

	_, err := f.machine.Run(context.Background(), page, request())
	require.Error(t, err)
	assert.Equal(t, faults.KindNotReady, faults.KindOf(err))
}

func TestRun_MenuRetried(t *testing.T) {
	f := newFixture(t, nil)
	viewer := viewerPage("12%")
	clicks := 0
	viewer.Element("tii-sws-download-btn-mfe").OnClick = func(p *browsertest.Page) {
		clicks++
		p.Element("dialog.popover-wrapper.open").Visible = clicks >= 2
	}
	page := listPage(viewer)

	result, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)
	assert.True(t, result.Artifacts.SimilarityAvailable)
	assert.Equal(t, 3, clicks, "two for the similarity menu, one for the AI menu")
}

func TestRun_NoDownloadsIsNotReady(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MenuAttempts = 2 })
	viewer := viewerPage("12%")
	viewer.Element("tii-sws-download-btn-mfe").OnClick = nil
	page := listPage(viewer)

	result, err := f.machine.Run(context.Background(), page, request())
	require.Error(t, err)
	assert.Equal(t, faults.KindNotReady, faults.KindOf(err))
	assert.True(t, result.Artifacts.Empty())
}

func TestRun_SessionFatalStops(t *testing.T) {
	f := newFixture(t, nil)
	page := listPage(viewerPage("12%"))
	page.Fatal = faults.SessionFatal("reload", "target closed", nil)

	_, err := f.machine.Run(context.Background(), page, request())
	require.Error(t, err)
	assert.True(t, faults.IsSessionFatal(err))
}

func TestRun_NavigatesWhenOffInbox(t *testing.T) {
	f := newFixture(t, nil)
	page := listPage(viewerPage("12%"))
	page.SetURL("https://platform.test/home.asp")

	_, err := f.machine.Run(context.Background(), page, request())
	require.NoError(t, err)
	navigations := page.Navigations()
	require.Len(t, navigations, 2)
	assert.Equal(t, "https://www.turnitin.com/t_inbox.asp?lang=en_us&aid=quicksubmit", navigations[0])
}
