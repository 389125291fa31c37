// Package submission drives one document through the platform's submission form.
package submission

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/locators"
	"github.com/ternarybob/vetter/internal/models"
)

// State is a step of the submission flow
type State string

const (
	StateOpeningForm               State = "opening_form"
	StateConfiguringOptions        State = "configuring_options"
	StateFillingMetadata           State = "filling_metadata"
	StateUploadingFile             State = "uploading_file"
	StateAwaitingServerProcessing  State = "awaiting_server_processing"
	StateConfirming                State = "confirming"
	StateAwaitingAcceptanceReceipt State = "awaiting_acceptance_receipt"
	StateDone                      State = "done"
	StateFailed                    State = "failed"
)

// Branch is the processing wait taken for the uploaded file
type Branch string

const (
	BranchStandard Branch = "standard"
	BranchExtended Branch = "extended"
)

// LoginGate blocks while a session login is running
type LoginGate interface {
	WaitIdle(ctx context.Context) error
}

// Request is one document to submit
type Request struct {
	ItemID   string
	OwnerID  int64
	FilePath string
	FileSize int64
}

// Result describes a completed submission
type Result struct {
	Record        *models.SubmissionRecord
	Branch        Branch
	States        []State
	SawProcessing bool // the intermediate processing indicator was shown
	ReceiptSeen   bool
}

// Machine runs the submission flow. It holds no per-run state and is shared by workers.
type Machine struct {
	opts     Options
	catalog  *locators.Catalog
	gate     LoginGate
	notifier interfaces.Notifier
	clock    common.Clock
	logger   arbor.ILogger
	suffix   func() int
}

// NewMachine creates a Machine. gate and notifier may be nil.
func NewMachine(opts Options, catalog *locators.Catalog, gate LoginGate, notifier interfaces.Notifier, clock common.Clock, logger arbor.ILogger) *Machine {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Machine{
		opts:     opts,
		catalog:  catalog,
		gate:     gate,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		suffix:   func() int { return rand.IntN(900) },
	}
}

// run is the state of one submission
type run struct {
	*Machine
	page   interfaces.Page
	req    Request
	result *Result
	state  State
	title  string
}

// Run submits req.FilePath on page, which must be showing the submission inbox.
// The returned record's Title is the join key for retrieval.
func (m *Machine) Run(ctx context.Context, page interfaces.Page, req Request) (*Result, error) {
	r := &run{Machine: m, page: page, req: req, result: &Result{}}

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateOpeningForm, r.openForm},
		{StateConfiguringOptions, r.configureOptions},
		{StateFillingMetadata, r.fillMetadata},
		{StateUploadingFile, r.uploadFile},
		{StateAwaitingServerProcessing, r.awaitProcessing},
		{StateConfirming, r.confirm},
		{StateAwaitingAcceptanceReceipt, r.awaitReceipt},
	}

	for _, step := range steps {
		r.enter(step.state)
		if err := step.fn(ctx); err != nil {
			r.enter(StateFailed)
			m.logger.Error().
				Str("item_id", req.ItemID).
				Str("state", string(step.state)).
				Err(err).
				Msg("Submission failed")
			return r.result, err
		}
	}

	r.enter(StateDone)
	m.logger.Info().
		Str("item_id", req.ItemID).
		Str("title", r.result.Record.Title).
		Str("branch", string(r.result.Branch)).
		Msg("Submission accepted")
	return r.result, nil
}

func (r *run) enter(state State) {
	r.logger.Debug().
		Str("item_id", r.req.ItemID).
		Str("from", string(r.state)).
		Str("to", string(state)).
		Msg("Submission state")
	r.state = state
	r.result.States = append(r.result.States, state)
}

// fatal classifies a required-step failure, keeping session and cancellation kinds intact
func fatal(op, msg string, err error) error {
	if faults.IsSessionFatal(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return faults.ItemFatal(op, msg, err)
}

func (r *run) clickFirst(ctx context.Context, action string, timeout time.Duration) error {
	_, err := locators.FirstMatch(ctx, action, r.catalog.Candidates(action), func(ctx context.Context, loc models.Locator) error {
		return r.page.Click(ctx, loc, timeout)
	})
	return err
}

func (r *run) fillFirst(ctx context.Context, action, value string) error {
	_, err := locators.FirstMatch(ctx, action, r.catalog.Candidates(action), func(ctx context.Context, loc models.Locator) error {
		return r.page.Fill(ctx, loc, value, r.opts.StepTimeout)
	})
	return err
}

// anyVisible reports whether any candidate of action is visible. Only session failures are errors.
func (r *run) anyVisible(ctx context.Context, action string) (bool, error) {
	for _, loc := range r.catalog.Candidates(action) {
		visible, err := r.page.Visible(ctx, loc)
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

func (r *run) notify(ctx context.Context, kind models.NotificationKind, text string, fields map[string]string) {
	if r.notifier == nil {
		return
	}
	n := models.Notification{
		Kind:      kind,
		OwnerID:   r.req.OwnerID,
		ItemID:    r.req.ItemID,
		Text:      text,
		Fields:    fields,
		CreatedAt: r.clock.Now(),
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn().Str("kind", string(kind)).Err(err).Msg("Failed to send notification")
	}
}

func (r *run) openForm(ctx context.Context) error {
	if err := r.clickFirst(ctx, "submit.open_form", r.opts.StepTimeout); err != nil {
		return fatal("open form", "submission form not found", err)
	}
	return nil
}

// configureOptions applies the comparison-source rules. Only the proceed control is required.
func (r *run) configureOptions(ctx context.Context) error {
	for _, rule := range r.opts.Checkboxes {
		rule := rule
		candidates := r.catalog.Expand("submit.source_checkbox", map[string]string{"value": rule.Value})
		_, err := locators.FirstMatch(ctx, "checkbox "+rule.Name, candidates, func(ctx context.Context, loc models.Locator) error {
			checked, err := r.page.Checked(ctx, loc)
			if err != nil {
				return err
			}
			if checked == rule.Checked {
				return nil
			}
			return r.page.Click(ctx, loc, r.opts.OptionTimeout)
		})
		if err != nil {
			if faults.IsSessionFatal(err) {
				return err
			}
			r.logger.Warn().Str("option", rule.Name).Err(err).Msg("Could not set comparison source")
			continue
		}
		r.logger.Debug().Str("option", rule.Name).Bool("checked", rule.Checked).Msg("Comparison source set")
	}

	if r.opts.RepositoryValue != "" {
		_, err := locators.FirstMatch(ctx, "submit.repository", r.catalog.Candidates("submit.repository"), func(ctx context.Context, loc models.Locator) error {
			return r.page.SelectOption(ctx, loc, r.opts.RepositoryValue)
		})
		if err != nil {
			if faults.IsSessionFatal(err) {
				return err
			}
			r.logger.Warn().Err(err).Msg("Could not set repository option")
		}
	}

	if err := r.clickFirst(ctx, "submit.proceed", r.opts.StepTimeout); err != nil {
		return fatal("configure options", "proceed control not found", err)
	}
	return nil
}

func (r *run) fillMetadata(ctx context.Context) error {
	r.title = GenerateTitle(r.clock.Now(), r.suffix(), r.opts.MaxTitleLength)
	r.result.Record = models.NewSubmissionRecord(r.title)

	fields := []struct {
		action string
		value  string
	}{
		{"submit.author_first", r.opts.AuthorFirst},
		{"submit.author_last", r.opts.AuthorLast},
		{"submit.title", r.title},
	}
	for _, field := range fields {
		if err := r.fillFirst(ctx, field.action, field.value); err != nil {
			return fatal("fill metadata", "submission details form not found", err)
		}
	}

	r.logger.Debug().Str("item_id", r.req.ItemID).Str("title", r.title).Msg("Submission details filled")
	return nil
}

func (r *run) uploadFile(ctx context.Context) error {
	r.notify(ctx, models.NotifyUploading, "Uploading document...", nil)

	if r.gate != nil {
		waitCtx, cancel := context.WithTimeout(ctx, r.opts.LoginWaitTimeout)
		err := r.gate.WaitIdle(waitCtx)
		cancel()
		if err != nil {
			return fatal("upload", "a login is still in progress", err)
		}
	}

	// Some form versions hide the input behind a chooser button
	if err := r.clickFirst(ctx, "submit.choose_file", r.opts.OptionTimeout); err != nil {
		if faults.IsSessionFatal(err) {
			return err
		}
		r.logger.Debug().Err(err).Msg("No file chooser button")
	}

	_, err := locators.FirstMatch(ctx, "submit.file_input", r.catalog.Candidates("submit.file_input"), func(ctx context.Context, loc models.Locator) error {
		return r.page.SetFiles(ctx, loc, r.req.FilePath)
	})
	if err != nil {
		return fatal("upload", "could not select the file for upload", err)
	}

	if err := r.clickFirst(ctx, "submit.upload", r.opts.StepTimeout); err != nil {
		return fatal("upload", "upload button not found", err)
	}
	return nil
}

// awaitProcessing waits for the confirmation banner, then for the confirm control to enable
func (r *run) awaitProcessing(ctx context.Context) error {
	timeout := r.opts.ProcessingTimeout
	r.result.Branch = BranchStandard
	if r.req.FileSize > r.opts.LargeFileThreshold {
		timeout = r.opts.ExtendedProcessingTimeout
		r.result.Branch = BranchExtended
		r.logger.Info().
			Str("item_id", r.req.ItemID).
			Int64("size", r.req.FileSize).
			Dur("timeout", timeout).
			Msg("Large file, using extended processing wait")
	}

	r.notify(ctx, models.NotifyRemoteProcessing, "Processing document...", map[string]string{"branch": string(r.result.Branch)})

	policy := common.PollPolicy{Name: "processing " + string(r.result.Branch), Interval: r.opts.ProcessingPollInterval, Timeout: timeout}
	_, err := common.PollUntil(ctx, r.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		ready, err := r.anyVisible(ctx, "submit.confirm_banner")
		if err != nil || ready {
			return ready, err
		}
		if !r.result.SawProcessing {
			processing, err := r.anyVisible(ctx, "submit.processing_indicator")
			if err != nil {
				return false, err
			}
			if processing {
				r.result.SawProcessing = true
				r.logger.Info().Str("item_id", r.req.ItemID).Msg("Platform still processing upload")
			}
		}
		return false, nil
	})
	if err != nil && !errors.Is(err, common.ErrPollExhausted) {
		return fatal("await processing", "processing check failed", err)
	}

	if err != nil {
		r.logger.Warn().Err(err).Msg("Confirmation banner not shown, checking confirm button")
		fallback := common.PollPolicy{Name: "confirm fallback", Interval: r.opts.ConfirmPollInterval, Timeout: r.opts.ConfirmFallbackTimeout}
		_, err = common.PollUntil(ctx, r.clock, fallback, func(ctx context.Context, attempt int) (bool, error) {
			return r.anyVisible(ctx, "submit.confirm_button")
		})
		if err != nil {
			return fatal("await processing", "upload was not processed in time", err)
		}
	}

	enable := common.PollPolicy{Name: "confirm enabled", Interval: r.opts.ConfirmPollInterval, Timeout: r.opts.ConfirmEnableTimeout}
	_, err = common.PollUntil(ctx, r.clock, enable, func(ctx context.Context, attempt int) (bool, error) {
		for _, loc := range r.catalog.Candidates("submit.confirm_button") {
			_, disabled, err := r.page.Attribute(ctx, loc, "disabled")
			if err != nil {
				if faults.IsSessionFatal(err) {
					return false, err
				}
				continue
			}
			if !disabled {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return fatal("await processing", "confirm button never became enabled", err)
	}
	return nil
}

// readField returns the trimmed text of action, or UnknownValue
func (r *run) readField(ctx context.Context, action string) string {
	var text string
	_, err := locators.FirstMatch(ctx, action, r.catalog.Candidates(action), func(ctx context.Context, loc models.Locator) error {
		value, err := r.page.Text(ctx, loc, r.opts.OptionTimeout)
		if err != nil {
			return err
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return errors.New("empty")
		}
		text = value
		return nil
	})
	if err != nil {
		return models.UnknownValue
	}
	return text
}

func (r *run) confirm(ctx context.Context) error {
	record := r.result.Record
	if title := r.readField(ctx, "submit.meta_title"); title != models.UnknownValue {
		record.Title = title
	}
	record.PageCount = r.readField(ctx, "submit.meta_page_count")
	record.WordCount = r.readField(ctx, "submit.meta_word_count")
	record.CharacterCount = r.readField(ctx, "submit.meta_character_count")
	record.FileSize = r.readField(ctx, "submit.meta_file_size")
	record.RemoteDate = r.readField(ctx, "submit.meta_date")
	record.RemoteID = r.readField(ctx, "submit.meta_id")

	r.logger.Info().
		Str("item_id", r.req.ItemID).
		Str("title", record.Title).
		Str("pages", record.PageCount).
		Str("words", record.WordCount).
		Str("remote_id", record.RemoteID).
		Msg("Submission metadata read")

	r.notify(ctx, models.NotifyVerified, fmt.Sprintf("Document verified: %s", record.Title), map[string]string{
		"title":      record.Title,
		"file_size":  record.FileSize,
		"pages":      record.PageCount,
		"words":      record.WordCount,
		"characters": record.CharacterCount,
		"date":       record.RemoteDate,
		"remote_id":  record.RemoteID,
	})

	if err := r.clickFirst(ctx, "submit.confirm", r.opts.StepTimeout); err != nil {
		return fatal("confirm", "confirm button not found", err)
	}
	return nil
}

// awaitReceipt looks for the completion text. Its absence is only logged.
func (r *run) awaitReceipt(ctx context.Context) error {
	policy := common.PollPolicy{Name: "receipt", Interval: r.opts.ReceiptInterval, MaxAttempts: r.opts.ReceiptAttempts}
	_, err := common.PollUntil(ctx, r.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		html, err := r.page.HTML(ctx)
		if err != nil {
			if faults.IsSessionFatal(err) {
				return false, err
			}
			return false, nil
		}
		for _, marker := range r.opts.ReceiptMarkers {
			if strings.Contains(html, marker) {
				return true, nil
			}
		}
		return false, nil
	})
	switch {
	case err == nil:
		r.result.ReceiptSeen = true
	case errors.Is(err, common.ErrPollExhausted):
		r.logger.Warn().Str("item_id", r.req.ItemID).Msg("Submission receipt not seen, continuing")
	default:
		return err
	}

	if err := r.clickFirst(ctx, "submit.close_receipt", r.opts.OptionTimeout); err != nil {
		if faults.IsSessionFatal(err) {
			return err
		}
		r.logger.Debug().Err(err).Msg("Receipt close button not found")
	}

	if r.opts.SettleDelay > 0 {
		if err := r.clock.Sleep(ctx, r.opts.SettleDelay); err != nil {
			return err
		}
	}
	return nil
}
