// Package retrieval finds a submitted document in the inbox, waits for its analysis
// and downloads the report files.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/locators"
	"github.com/ternarybob/vetter/internal/models"
)

// State is a step of the retrieval flow
type State string

const (
	StateNavigatingToList          State = "navigating_to_list"
	StateSortingForRecency         State = "sorting_for_recency"
	StateSearchingForTitle         State = "searching_for_title"
	StateOpeningResultView         State = "opening_result_view"
	StateAwaitingAnalysisReadiness State = "awaiting_analysis_readiness"
	StateValidatingAIScore         State = "validating_ai_score"
	StateDownloadingSimilarity     State = "downloading_similarity"
	StateDownloadingAIWriting      State = "downloading_ai_writing"
	StateDone                      State = "done"
	StateNotFound                  State = "not_found"
	StateFailed                    State = "failed"
)

// Request identifies the submission to retrieve
type Request struct {
	ItemID  string
	OwnerID int64
	Title   string
}

// Result is the outcome of one retrieval
type Result struct {
	Artifacts      *models.ReportArtifacts
	States         []State
	SearchAttempts int
	ScoreAttempts  int
}

// Machine runs the retrieval flow. The search lock is shared by every worker so only one
// reloads and scans the inbox at a time.
type Machine struct {
	opts     Options
	catalog  *locators.Catalog
	lock     sync.Locker
	notifier interfaces.Notifier
	clock    common.Clock
	logger   arbor.ILogger
}

// NewMachine creates a Machine. A nil lock gets a private mutex; notifier may be nil.
func NewMachine(opts Options, catalog *locators.Catalog, lock sync.Locker, notifier interfaces.Notifier, clock common.Clock, logger arbor.ILogger) *Machine {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Machine{
		opts:     opts,
		catalog:  catalog,
		lock:     lock,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

type run struct {
	*Machine
	page      interfaces.Page
	viewer    interfaces.Page
	req       Request
	result    *Result
	inboxURL  string
	row       Row
	rowLoc    models.Locator
	artifacts *models.ReportArtifacts
}

// Run retrieves the reports for req.Title. page must belong to the calling worker's session.
func (m *Machine) Run(ctx context.Context, page interfaces.Page, req Request) (*Result, error) {
	r := &run{
		Machine:   m,
		page:      page,
		req:       req,
		result:    &Result{},
		artifacts: &models.ReportArtifacts{},
	}
	r.result.Artifacts = r.artifacts
	defer r.finish(ctx)

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateNavigatingToList, r.navigateAndSort},
		{StateSearchingForTitle, r.search},
		{StateOpeningResultView, r.openResult},
		{StateAwaitingAnalysisReadiness, r.awaitReadiness},
		{StateValidatingAIScore, r.validateAIScore},
		{StateDownloadingSimilarity, r.downloadSimilarity},
		{StateDownloadingAIWriting, r.downloadAI},
	}

	for _, step := range steps {
		r.enter(step.state)
		if err := step.fn(ctx); err != nil {
			if faults.KindOf(err) == faults.KindNotFound {
				r.enter(StateNotFound)
			} else {
				r.enter(StateFailed)
			}
			m.logger.Warn().
				Str("item_id", req.ItemID).
				Str("title", req.Title).
				Str("state", string(step.state)).
				Str("kind", faults.KindOf(err).String()).
				Err(err).
				Msg("Retrieval stopped")
			return r.result, err
		}
	}

	if r.artifacts.Empty() {
		r.enter(StateFailed)
		return r.result, faults.NotReady("download reports", "reports could not be downloaded yet", nil)
	}

	r.enter(StateDone)
	m.logger.Info().
		Str("item_id", req.ItemID).
		Str("title", req.Title).
		Bool("similarity", r.artifacts.SimilarityAvailable).
		Bool("ai", r.artifacts.AIAvailable).
		Msg("Reports retrieved")
	return r.result, nil
}

func (r *run) enter(state State) {
	if state == StateSearchingForTitle && len(r.result.States) > 0 && r.result.States[len(r.result.States)-1] == state {
		return
	}
	r.logger.Debug().Str("item_id", r.req.ItemID).Str("state", string(state)).Msg("Retrieval state")
	r.result.States = append(r.result.States, state)
}

// finish closes a popup viewer and returns the main page to the inbox, best effort
func (r *run) finish(ctx context.Context) {
	if r.viewer != nil && r.viewer != r.page {
		if err := r.viewer.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Failed to close report viewer")
		}
	}
	if r.inboxURL == "" || ctx.Err() != nil {
		return
	}
	if err := r.page.Navigate(ctx, r.inboxURL); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to return to inbox")
	}
}

func (r *run) notify(ctx context.Context, kind models.NotificationKind, text string, fields map[string]string) {
	if r.notifier == nil {
		return
	}
	err := r.notifier.Notify(ctx, models.Notification{
		Kind:      kind,
		OwnerID:   r.req.OwnerID,
		ItemID:    r.req.ItemID,
		Text:      text,
		Fields:    fields,
		CreatedAt: r.clock.Now(),
	})
	if err != nil {
		r.logger.Warn().Str("kind", string(kind)).Err(err).Msg("Failed to send notification")
	}
}

// fatal classifies a required-step failure, keeping session and cancellation kinds intact
func fatal(op, msg string, err error) error {
	if faults.IsSessionFatal(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return faults.ItemFatal(op, msg, err)
}

// resolveInboxURL fills the assignment id from the current URL
func (r *run) resolveInboxURL(current string) string {
	aid := r.opts.DefaultAID
	if u, err := url.Parse(current); err == nil {
		if v := u.Query().Get("aid"); v != "" {
			aid = v
		}
	}
	return strings.ReplaceAll(r.opts.InboxURL, "{aid}", url.QueryEscape(aid))
}

func (r *run) navigateAndSort(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	current, err := r.page.URL(ctx)
	if err != nil {
		return fatal("open inbox", "could not read current page", err)
	}
	r.inboxURL = r.resolveInboxURL(current)

	if r.opts.InboxMarker == "" || !strings.Contains(current, r.opts.InboxMarker) {
		if err := r.page.Navigate(ctx, r.inboxURL); err != nil {
			return fatal("open inbox", "could not open the submissions list", err)
		}
	}

	r.enter(StateSortingForRecency)
	r.sort(ctx)
	return nil
}

// sort clicks the paper id header twice for newest first. The search scans every row
// anyway, so failures are only logged.
func (r *run) sort(ctx context.Context) {
	for click := 1; click <= 2; click++ {
		_, err := locators.FirstMatch(ctx, "inbox.sort_header", r.catalog.Candidates("inbox.sort_header"), func(ctx context.Context, loc models.Locator) error {
			return r.page.Click(ctx, loc, r.opts.OpenTimeout)
		})
		if err != nil {
			r.logger.Debug().Int("click", click).Err(err).Msg("Could not sort inbox")
			return
		}
		if err := r.clock.Sleep(ctx, r.opts.SortClickDelay); err != nil {
			return
		}
	}
}

// scan reloads the inbox and looks for the title, holding the search lock throughout
func (r *run) scan(ctx context.Context) (Row, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.page.Reload(ctx); err != nil {
		return Row{}, false, err
	}
	html, err := r.page.HTML(ctx)
	if err != nil {
		return Row{}, false, err
	}

	title, _ := r.catalog.First("inbox.row_title")
	scoreLink, _ := r.catalog.First("inbox.row_score")
	scoreText, _ := r.catalog.First("inbox.row_score_text")

	for _, rowLoc := range r.catalog.Candidates("inbox.row") {
		if rowLoc.By == models.ByXPath {
			continue
		}
		rows, err := ParseRows(html, rowLoc, title, scoreLink, scoreText)
		if err != nil {
			return Row{}, false, err
		}
		if row, ok := FindRow(rows, r.req.Title); ok {
			r.rowLoc = rowLoc
			return row, true, nil
		}
	}
	return Row{}, false, nil
}

// findTitle makes up to SearchAttempts scans
func (r *run) findTitle(ctx context.Context) (Row, error) {
	var row Row
	policy := common.PollPolicy{Name: "search", Interval: r.opts.SearchDelay, MaxAttempts: r.opts.SearchAttempts}
	_, err := common.PollUntil(ctx, r.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		r.result.SearchAttempts++
		found, ok, err := r.scan(ctx)
		if err != nil {
			if faults.IsSessionFatal(err) {
				return false, err
			}
			r.logger.Warn().Int("attempt", attempt).Err(err).Msg("Inbox scan failed")
			return false, nil
		}
		if !ok {
			r.logger.Debug().Int("attempt", attempt).Str("title", r.req.Title).Msg("Title not in inbox yet")
			return false, nil
		}
		row = found
		return true, nil
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return Row{}, faults.NotFound("search", "submission not found in the list", err)
	}
	if err != nil {
		return Row{}, fatal("search", "could not read the submissions list", err)
	}
	return row, nil
}

// search finds the row, then keeps rescanning until it shows a similarity score
func (r *run) search(ctx context.Context) error {
	policy := common.PollPolicy{Name: "score", Interval: r.opts.ScoreDelay, MaxAttempts: r.opts.ScoreAttempts}
	_, err := common.PollUntil(ctx, r.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		r.result.ScoreAttempts = attempt
		row, err := r.findTitle(ctx)
		if err != nil {
			return false, err
		}
		r.row = row
		return row.HasScore, nil
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return faults.NotReady("await score", "similarity score not ready yet", err)
	}
	if err != nil {
		return err
	}

	r.artifacts.SimilarityScore = r.row.Score
	r.logger.Info().
		Str("item_id", r.req.ItemID).
		Str("title", r.req.Title).
		Int("row", r.row.Index).
		Str("score", r.row.Score).
		Msg("Submission found")
	r.notify(ctx, models.NotifyReportReady, "Similarity score ready", map[string]string{"similarity_score": r.row.Score})
	return nil
}

func (r *run) openResult(ctx context.Context) error {
	link, ok := r.catalog.First("inbox.row_score")
	if !ok {
		return faults.ItemFatal("open report", "score link locator missing", locators.ErrNoCandidates)
	}
	viewer, err := r.page.OpenFrom(ctx, r.rowLoc, r.row.Index, link, r.opts.OpenTimeout)
	if err != nil {
		return fatal("open report", "could not open the report viewer", err)
	}
	r.viewer = viewer
	return nil
}

func (r *run) anyVisible(ctx context.Context, page interfaces.Page, action string) (bool, error) {
	for _, loc := range r.catalog.Candidates(action) {
		visible, err := page.Visible(ctx, loc)
		if err != nil {
			if faults.IsSessionFatal(err) {
				return false, err
			}
			continue
		}
		if visible {
			return true, nil
		}
	}
	return false, nil
}

func (r *run) awaitReadiness(ctx context.Context) error {
	policy := common.PollPolicy{
		Name:        "readiness",
		Interval:    r.opts.ReadinessInterval,
		MaxInterval: r.opts.ReadinessMaxInterval,
		Multiplier:  2,
		Timeout:     r.opts.ReadinessTimeout,
	}
	_, err := common.PollUntil(ctx, r.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		return r.anyVisible(ctx, r.viewer, "report.download_button")
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return faults.NotReady("await readiness", "reports not ready yet", err)
	}
	return err
}

// validateAIScore reads the last AI badge. Only a percentage other than a sentinel counts
// as a score; any other text means no AI report. A missing badge is treated as available.
func (r *run) validateAIScore(ctx context.Context) error {
	r.artifacts.AIAvailable = true

	var badge string
	for _, loc := range r.catalog.Candidates("report.ai_badge") {
		texts, err := r.viewer.TextAll(ctx, loc)
		if err != nil {
			if faults.IsSessionFatal(err) {
				return err
			}
			continue
		}
		for i := len(texts) - 1; i >= 0; i-- {
			if text := strings.TrimSpace(texts[i]); text != "" {
				badge = text
				break
			}
		}
		if badge != "" {
			break
		}
	}

	switch {
	case badge == "":
		r.logger.Debug().Str("item_id", r.req.ItemID).Msg("No AI badge, assuming AI report available")
	case r.isSentinel(badge):
		r.artifacts.AIAvailable = false
		r.artifacts.AIUnavailableReason = fmt.Sprintf("AI writing score unavailable (%s)", badge)
		r.logger.Info().Str("item_id", r.req.ItemID).Str("badge", badge).Msg("AI score sentinel, skipping AI report")
	case strings.Contains(badge, "%"):
		r.artifacts.AIScore = badge
		r.notify(ctx, models.NotifyAIScore, "AI writing score: "+badge, map[string]string{"ai_score": badge})
	default:
		r.artifacts.AIAvailable = false
		r.artifacts.AIUnavailableReason = fmt.Sprintf("AI writing score unavailable (%s)", badge)
		r.logger.Info().Str("item_id", r.req.ItemID).Str("badge", badge).Msg("AI badge without percentage, skipping AI report")
	}
	return nil
}

func (r *run) isSentinel(badge string) bool {
	compact := strings.Join(strings.Fields(badge), "")
	for _, sentinel := range r.opts.AISentinels {
		if compact == sentinel {
			return true
		}
	}
	return false
}

// openMenu clicks the download button until the menu renders
func (r *run) openMenu(ctx context.Context) error {
	policy := common.PollPolicy{Name: "download menu", Interval: r.opts.MenuTimeout, MaxAttempts: r.opts.MenuAttempts}
	_, err := common.PollUntil(ctx, r.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		_, err := locators.FirstMatch(ctx, "report.download_button", r.catalog.Candidates("report.download_button"), func(ctx context.Context, loc models.Locator) error {
			return r.viewer.Click(ctx, loc, r.opts.MenuTimeout)
		})
		if err != nil {
			if faults.IsSessionFatal(err) {
				return false, err
			}
			return false, nil
		}
		_, err = locators.FirstMatch(ctx, "report.download_menu", r.catalog.Candidates("report.download_menu"), func(ctx context.Context, loc models.Locator) error {
			return r.viewer.WaitVisible(ctx, loc, r.opts.MenuTimeout)
		})
		if err != nil {
			if faults.IsSessionFatal(err) {
				return false, err
			}
			r.logger.Debug().Int("attempt", attempt).Msg("Download menu did not open")
			return false, nil
		}
		return true, nil
	})
	return err
}

func (r *run) download(ctx context.Context, action, suffix string) (string, error) {
	if err := r.openMenu(ctx); err != nil {
		return "", err
	}
	dest := filepath.Join(r.opts.DownloadDir, models.ScratchName(r.req.OwnerID, r.clock.Now(), suffix))
	_, err := locators.FirstMatch(ctx, action, r.catalog.Candidates(action), func(ctx context.Context, loc models.Locator) error {
		return r.viewer.Download(ctx, loc, dest, r.opts.DownloadTimeout)
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// downloadSimilarity failing is not fatal here; an empty result is reported after both attempts
func (r *run) downloadSimilarity(ctx context.Context) error {
	path, err := r.download(ctx, "report.similarity_item", "similarity.pdf")
	if err != nil {
		if faults.IsSessionFatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		r.logger.Warn().Str("item_id", r.req.ItemID).Err(err).Msg("Similarity report download failed")
		return nil
	}
	r.artifacts.SimilarityPath = path
	r.artifacts.SimilarityAvailable = true
	return nil
}

func (r *run) downloadAI(ctx context.Context) error {
	if !r.artifacts.AIAvailable {
		return nil
	}
	path, err := r.download(ctx, "report.ai_item", "ai.pdf")
	if err != nil {
		if faults.IsSessionFatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		r.artifacts.AIAvailable = false
		r.artifacts.AIUnavailableReason = "AI writing report download failed"
		r.logger.Warn().Str("item_id", r.req.ItemID).Err(err).Msg("AI report download failed")
		return nil
	}
	r.artifacts.AIPath = path
	return nil
}
