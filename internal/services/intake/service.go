package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/services/cooldown"
)

var (
	ErrLoginInProgress = errors.New("a platform login is in progress, please retry shortly")
	ErrCooldownActive  = errors.New("upload cooldown active")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// CooldownError carries the owner's remaining cooldown. It matches ErrCooldownActive.
type CooldownError struct {
	Status cooldown.Status
}

func (e *CooldownError) Error() string { return e.Status.Message() }

func (e *CooldownError) Is(target error) bool { return target == ErrCooldownActive }

// Enqueuer accepts work for the pool
type Enqueuer interface {
	Submit(ctx context.Context, item *models.WorkItem) (int, error)
}

// LoginGate reports whether a platform login is running
type LoginGate interface {
	InProgress() bool
}

// Cooldowns is the per-owner upload throttle
type Cooldowns interface {
	Check(ctx context.Context, ownerID int64) (cooldown.Status, error)
	TryStart(ctx context.Context, ownerID int64) (cooldown.Status, bool, error)
	Clear(ctx context.Context, ownerID int64) (bool, error)
}

// AcceptRequest names a staged upload
type AcceptRequest struct {
	OwnerID          int64  `validate:"gt=0"`
	SourcePath       string `validate:"required"`
	OriginalFilename string `validate:"required"`
}

// Options are the intake limits
type Options struct {
	UploadDir      string
	MaxFileSize    int64
	AllowedExts    []string
	MinutesPerItem int
}

// NewOptions reads the paths and intake sections
func NewOptions(cfg *common.Config) Options {
	return Options{
		UploadDir:      cfg.Paths.Uploads,
		MaxFileSize:    cfg.Intake.MaxFileSize,
		AllowedExts:    cfg.Intake.AllowedExts,
		MinutesPerItem: cfg.Intake.MinutesPerItem,
	}
}

// Service is the enqueue entry point. Callers stage the upload, then Accept it.
type Service struct {
	opts      Options
	queue     Enqueuer
	gate      LoginGate
	cooldowns Cooldowns
	items     interfaces.WorkItemStorage
	notifier  interfaces.Notifier
	validate  *validator.Validate
	clock     common.Clock
	logger    arbor.ILogger
}

// NewService creates a Service. gate, items and notifier may be nil.
func NewService(
	opts Options,
	queue Enqueuer,
	gate LoginGate,
	cooldowns Cooldowns,
	items interfaces.WorkItemStorage,
	notifier interfaces.Notifier,
	clock common.Clock,
	logger arbor.ILogger,
) *Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Service{
		opts:      opts,
		queue:     queue,
		gate:      gate,
		cooldowns: cooldowns,
		items:     items,
		notifier:  notifier,
		validate:  validator.New(),
		clock:     clock,
		logger:    logger,
	}
}

// Stage copies r into the uploads dir as {owner}_{timestamp}_{name} and returns the path
// and byte count. Reading stops one byte past the size limit.
func (s *Service) Stage(ownerID int64, name string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.opts.UploadDir, models.ScratchName(ownerID, s.clock.Now(), models.SanitizeFilename(name)))

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create staged file: %w", err)
	}

	src := r
	if s.opts.MaxFileSize > 0 {
		src = io.LimitReader(r, s.opts.MaxFileSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write staged file: %w", err)
	}
	if s.opts.MaxFileSize > 0 && n > s.opts.MaxFileSize {
		os.Remove(path)
		return "", 0, ErrFileTooLarge
	}
	return path, n, nil
}

// Precheck rejects an owner who could not be accepted right now, before any upload is staged.
// Accept repeats both checks.
func (s *Service) Precheck(ctx context.Context, ownerID int64) error {
	if s.gate != nil && s.gate.InProgress() {
		return ErrLoginInProgress
	}
	status, err := s.cooldowns.Check(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("check cooldown: %w", err)
	}
	if status.Active {
		return &CooldownError{Status: status}
	}
	return nil
}

// Accept checks the login gate, reserves the owner's cooldown, checks the file and queues
// the item. It returns the item and its 1-based queue position. The reservation is released
// when the item is not queued. The caller keeps ownership of SourcePath when Accept fails.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*models.WorkItem, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, fmt.Errorf("invalid request: %w", err)
	}

	if s.gate != nil && s.gate.InProgress() {
		return nil, 0, ErrLoginInProgress
	}

	status, ok, err := s.cooldowns.TryStart(ctx, req.OwnerID)
	if err != nil {
		return nil, 0, fmt.Errorf("check cooldown: %w", err)
	}
	if !ok {
		s.logger.Info().
			Int64("owner_id", req.OwnerID).
			Dur("remaining", status.Remaining).
			Msg("Upload rejected, cooldown active")
		return nil, 0, &CooldownError{Status: status}
	}

	item, position, err := s.enqueue(ctx, req)
	if err != nil {
		if _, cerr := s.cooldowns.Clear(ctx, req.OwnerID); cerr != nil {
			s.logger.Warn().Int64("owner_id", req.OwnerID).Err(cerr).Msg("Failed to release cooldown")
		}
		return nil, 0, err
	}

	wait := s.EstimatedWait(position)
	s.logger.Info().
		Str("item_id", item.ID).
		Int64("owner_id", req.OwnerID).
		Str("file", req.OriginalFilename).
		Int("pages", item.LocalPageCount).
		Int("position", position).
		Msg("Upload accepted")

	s.notify(ctx, item, position, wait)
	return item, position, nil
}

func (s *Service) enqueue(ctx context.Context, req AcceptRequest) (*models.WorkItem, int, error) {
	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return nil, 0, fmt.Errorf("staged file: %w", err)
	}
	if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
		return nil, 0, fmt.Errorf("%w (%d MB)", ErrFileTooLarge, s.opts.MaxFileSize/(1024*1024))
	}
	ext := strings.ToLower(filepath.Ext(req.OriginalFilename))
	if len(s.opts.AllowedExts) > 0 && !slices.Contains(s.opts.AllowedExts, ext) {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	item := models.NewWorkItem(req.OwnerID, req.SourcePath, req.OriginalFilename, info.Size(), s.clock.Now())
	if ext == ".pdf" {
		item.LocalPageCount = s.pageCount(req.SourcePath)
	}
	s.save(ctx, item)

	position, err := s.queue.Submit(ctx, item)
	if err != nil {
		return nil, 0, fmt.Errorf("enqueue: %w", err)
	}
	return item, position, nil
}

// EstimatedWait is the rough time until an item at position starts
func (s *Service) EstimatedWait(position int) time.Duration {
	if position <= 1 {
		return 0
	}
	return time.Duration(position-1) * time.Duration(s.opts.MinutesPerItem) * time.Minute
}

// pageCount returns the PDF page count, or 0 when the file cannot be parsed
func (s *Service) pageCount(path string) int {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		s.logger.Warn().Str("path", path).Err(err).Msg("Could not read PDF page count")
		return 0
	}
	return pdfCtx.PageCount
}

func (s *Service) save(ctx context.Context, item *models.WorkItem) {
	if s.items == nil {
		return
	}
	if err := s.items.SaveWorkItem(ctx, item); err != nil {
		s.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Failed to save work item")
	}
}

func (s *Service) notify(ctx context.Context, item *models.WorkItem, position int, wait time.Duration) {
	if s.notifier == nil {
		return
	}
	text := fmt.Sprintf("Document queued: %s\nPosition: %d", item.OriginalFilename, position)
	if wait > 0 {
		text += fmt.Sprintf("\nEstimated wait: %s", cooldown.FormatRemaining(wait))
	}
	err := s.notifier.Notify(ctx, models.Notification{
		Kind:    models.NotifyQueued,
		OwnerID: item.OwnerID,
		ItemID:  item.ID,
		Text:    text,
		Fields: map[string]string{
			"position":       fmt.Sprint(position),
			"estimated_wait": wait.String(),
			"pages":          fmt.Sprint(item.LocalPageCount),
		},
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Failed to send queued notification")
	}
}
