package pipeline

import (
	"context"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/services/retrieval"
	"github.com/ternarybob/vetter/internal/services/session"
	"github.com/ternarybob/vetter/internal/services/submission"
)

// Sessions hands out the calling worker's browser session
type Sessions interface {
	Acquire(ctx context.Context, slot *session.Slot) (*session.Session, error)
}

// Submitter uploads one document and reports the title it was filed under
type Submitter interface {
	Run(ctx context.Context, page interfaces.Page, req submission.Request) (*submission.Result, error)
}

// Retriever finds a submission by title and downloads its reports
type Retriever interface {
	Run(ctx context.Context, page interfaces.Page, req retrieval.Request) (*retrieval.Result, error)
}

// Deliverer hands the downloaded reports to the requester
type Deliverer interface {
	Deliver(ctx context.Context, item *models.WorkItem, record *models.SubmissionRecord, artifacts *models.ReportArtifacts) error
	Cleanup(item *models.WorkItem, artifacts *models.ReportArtifacts)
}

// Processor runs one work item end to end: submit, retrieve, deliver.
// It satisfies queue.Processor; the pool owns status bookkeeping and failure notices.
type Processor struct {
	sessions  Sessions
	submitter Submitter
	retriever Retriever
	deliverer Deliverer
	items     interfaces.WorkItemStorage
	clock     common.Clock
	logger    arbor.ILogger
}

// NewProcessor creates a Processor. items may be nil.
func NewProcessor(
	sessions Sessions,
	submitter Submitter,
	retriever Retriever,
	deliverer Deliverer,
	items interfaces.WorkItemStorage,
	clock common.Clock,
	logger arbor.ILogger,
) *Processor {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Processor{
		sessions:  sessions,
		submitter: submitter,
		retriever: retriever,
		deliverer: deliverer,
		items:     items,
		clock:     clock,
		logger:    logger,
	}
}

func (p *Processor) Process(ctx context.Context, slot *session.Slot, item *models.WorkItem) error {
	if _, err := os.Stat(item.SourcePath); err != nil {
		return faults.ItemFatal("process", "uploaded file is missing", err)
	}

	sess, err := p.sessions.Acquire(ctx, slot)
	if err != nil {
		return err
	}
	page := sess.Page()

	submitted, err := p.submitter.Run(ctx, page, submission.Request{
		ItemID:   item.ID,
		OwnerID:  item.OwnerID,
		FilePath: item.SourcePath,
		FileSize: item.FileSize,
	})
	if err != nil {
		return err
	}
	record := submitted.Record
	item.Title = record.Title
	p.save(ctx, item)

	retrieved, err := p.retriever.Run(ctx, page, retrieval.Request{
		ItemID:  item.ID,
		OwnerID: item.OwnerID,
		Title:   record.Title,
	})
	if err != nil {
		if retrieved != nil && retrieved.Artifacts != nil {
			p.deliverer.Cleanup(nil, retrieved.Artifacts)
		}
		return err
	}

	artifacts := retrieved.Artifacts
	item.SimilarityScore = artifacts.SimilarityScore
	item.AIScore = artifacts.AIScore
	p.save(ctx, item)

	p.logger.Info().
		Str("item_id", item.ID).
		Int64("owner_id", item.OwnerID).
		Str("title", record.Title).
		Str("similarity", artifacts.SimilarityScore).
		Str("ai", artifacts.AIScore).
		Msg("Reports retrieved, delivering")

	return p.deliverer.Deliver(ctx, item, record, artifacts)
}

// save records progress, best effort
func (p *Processor) save(ctx context.Context, item *models.WorkItem) {
	if p.items == nil {
		return
	}
	if err := p.items.SaveWorkItem(ctx, item); err != nil {
		p.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Failed to save work item")
	}
}
