// Package delivery hands finished reports to their owner and removes the scratch files.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
	"golang.org/x/sync/errgroup"
)

// Options are the delivery settings
type Options struct {
	DirectAttempts int
	RetryDelay     time.Duration
	KeepArtifacts  bool
}

// NewOptions reads the delivery section
func NewOptions(cfg *common.Config) Options {
	return Options{
		DirectAttempts: cfg.Delivery.DirectAttempts,
		RetryDelay:     common.ParseDuration(cfg.Delivery.RetryDelay, 3*time.Second),
		KeepArtifacts:  cfg.Delivery.KeepArtifacts,
	}
}

// Service delivers report files. publisher is optional; without it a failed direct send
// leaves the report undelivered.
type Service struct {
	opts      Options
	notifier  interfaces.Notifier
	publisher interfaces.LinkPublisher
	clock     common.Clock
	logger    arbor.ILogger
}

// NewService creates a delivery Service
func NewService(opts Options, notifier interfaces.Notifier, publisher interfaces.LinkPublisher, clock common.Clock, logger arbor.ILogger) *Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if opts.DirectAttempts < 1 {
		opts.DirectAttempts = 1
	}
	return &Service{
		opts:      opts,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

type report struct {
	label string
	path  string
	link  *models.ShareLink
	sent  bool
}

// Deliver sends every available report to the item's owner, then the summary. A report
// that could not be sent or linked is named in the summary; only delivering nothing fails.
// The report files and the item's source file are removed whatever the outcome.
func (s *Service) Deliver(ctx context.Context, item *models.WorkItem, record *models.SubmissionRecord, artifacts *models.ReportArtifacts) error {
	defer s.Cleanup(item, artifacts)

	var reports []*report
	if artifacts.SimilarityAvailable && artifacts.SimilarityPath != "" {
		reports = append(reports, &report{label: "Similarity Report", path: artifacts.SimilarityPath})
	}
	if artifacts.AIAvailable && artifacts.AIPath != "" {
		reports = append(reports, &report{label: "AI Writing Report", path: artifacts.AIPath})
	}
	if len(reports) == 0 {
		return faults.NotReady("deliver", "no reports to deliver", nil)
	}

	var fallback []*report
	for _, r := range reports {
		if err := s.sendDirect(ctx, item, r); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Warn().Str("item_id", item.ID).Str("report", r.label).Err(err).Msg("Direct send failed, falling back to share link")
			fallback = append(fallback, r)
			continue
		}
		r.sent = true
	}

	if len(fallback) > 0 {
		s.publish(ctx, item, fallback)
	}

	var missing []string
	delivered := 0
	for _, r := range reports {
		if r.sent || r.link != nil {
			delivered++
		} else {
			missing = append(missing, r.label)
		}
	}

	if delivered == 0 {
		return faults.ItemFatal("deliver", "reports could not be delivered", nil)
	}

	fields := summaryFields(record, artifacts)
	if len(missing) > 0 {
		fields["missing_reports"] = strings.Join(missing, ", ")
		s.logger.Warn().
			Str("item_id", item.ID).
			Strs("missing", missing).
			Msg("Delivered with a report missing")
	}
	s.notify(ctx, item, models.NotifyReportsReady, summary(item, record, artifacts, reports), fields)

	s.logger.Info().
		Str("item_id", item.ID).
		Int64("owner_id", item.OwnerID).
		Int("reports", delivered).
		Msg("Reports delivered")
	return nil
}

func (s *Service) sendDirect(ctx context.Context, item *models.WorkItem, r *report) error {
	var lastErr error
	policy := common.PollPolicy{Name: "send " + r.label, Interval: s.opts.RetryDelay, MaxAttempts: s.opts.DirectAttempts}
	_, err := common.PollUntil(ctx, s.clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		lastErr = s.notifier.SendFile(ctx, item.OwnerID, r.path, r.label)
		if lastErr != nil {
			s.logger.Debug().Str("item_id", item.ID).Int("attempt", attempt).Err(lastErr).Msg("Send attempt failed")
			return false, nil
		}
		return true, nil
	})
	if errors.Is(err, common.ErrPollExhausted) && lastErr != nil {
		return fmt.Errorf("%w: %w", err, lastErr)
	}
	return err
}

// publish uploads the reports in parallel and sends one link message per success
func (s *Service) publish(ctx context.Context, item *models.WorkItem, reports []*report) {
	if s.publisher == nil {
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range reports {
		g.Go(func() error {
			name := fmt.Sprintf("%s_%d.pdf", strings.ReplaceAll(r.label, " ", "_"), item.OwnerID)
			link, err := s.publisher.Publish(gctx, r.path, name)
			if err != nil {
				s.logger.Warn().Str("item_id", item.ID).Str("report", r.label).Err(err).Msg("Share link upload failed")
				return nil
			}
			mu.Lock()
			r.link = link
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for _, r := range reports {
		if r.link == nil {
			continue
		}
		s.notify(ctx, item, models.NotifyFile, fmt.Sprintf("%s: %s", r.label, r.link.ViewURL), map[string]string{
			"report":       r.label,
			"view_url":     r.link.ViewURL,
			"download_url": r.link.DownloadURL,
		})
	}
}

func (s *Service) notify(ctx context.Context, item *models.WorkItem, kind models.NotificationKind, text string, fields map[string]string) {
	err := s.notifier.Notify(ctx, models.Notification{
		Kind:      kind,
		OwnerID:   item.OwnerID,
		ItemID:    item.ID,
		Text:      text,
		Fields:    fields,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn().Str("item_id", item.ID).Str("kind", string(kind)).Err(err).Msg("Failed to send notification")
	}
}

// summary is the "Reports Ready" text for an owner
func summary(item *models.WorkItem, record *models.SubmissionRecord, artifacts *models.ReportArtifacts, reports []*report) string {
	var b strings.Builder
	b.WriteString("Reports Ready\n")
	if item.OriginalFilename != "" {
		fmt.Fprintf(&b, "File: %s\n", item.OriginalFilename)
	}
	if record != nil {
		fmt.Fprintf(&b, "Submission: %s\n", record.Title)
	}
	if artifacts.SimilarityScore != "" {
		fmt.Fprintf(&b, "Similarity: %s\n", artifacts.SimilarityScore)
	}
	switch {
	case artifacts.AIScore != "":
		fmt.Fprintf(&b, "AI writing: %s\n", artifacts.AIScore)
	case !artifacts.AIAvailable && artifacts.AIUnavailableReason != "":
		fmt.Fprintf(&b, "Note: %s\n", artifacts.AIUnavailableReason)
	}
	for _, r := range reports {
		switch {
		case r.link != nil:
			fmt.Fprintf(&b, "%s: %s (download: %s)\n", r.label, r.link.ViewURL, r.link.DownloadURL)
		case !r.sent:
			fmt.Fprintf(&b, "%s could not be delivered.\n", r.label)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func summaryFields(record *models.SubmissionRecord, artifacts *models.ReportArtifacts) map[string]string {
	fields := map[string]string{
		"similarity_available": fmt.Sprint(artifacts.SimilarityAvailable),
		"ai_available":         fmt.Sprint(artifacts.AIAvailable),
	}
	if artifacts.SimilarityScore != "" {
		fields["similarity_score"] = artifacts.SimilarityScore
	}
	if artifacts.AIScore != "" {
		fields["ai_score"] = artifacts.AIScore
	}
	if artifacts.AIUnavailableReason != "" {
		fields["ai_unavailable_reason"] = artifacts.AIUnavailableReason
	}
	if record != nil {
		fields["title"] = record.Title
		fields["page_count"] = record.PageCount
		fields["word_count"] = record.WordCount
	}
	return fields
}

// Cleanup removes the report files and the item's source file
func (s *Service) Cleanup(item *models.WorkItem, artifacts *models.ReportArtifacts) {
	var paths []string
	if artifacts != nil && !s.opts.KeepArtifacts {
		paths = append(paths, artifacts.SimilarityPath, artifacts.AIPath)
	}
	if item != nil {
		paths = append(paths, item.SourcePath)
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Str("path", path).Err(err).Msg("Failed to remove scratch file")
			continue
		}
		s.logger.Debug().Str("path", path).Msg("Removed scratch file")
	}
}
