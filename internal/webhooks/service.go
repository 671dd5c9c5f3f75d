// Package webhooks implements the durable inbox for provider events: intake
// deduplicates on (provider, event id), drains apply entries in arrival order,
// and failures retry up to a ceiling before the entry is parked.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/multierr"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	pkgerrors "github.com/tickettoken/settlement/pkg/errors"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
)

const (
	DefaultBatchSize     = 10
	DefaultMaxRetries    = 5
	DefaultRetentionDays = 30
	DefaultItemTimeout   = 15 * time.Second

	maxErrorMessageLen = 1000
)

// Handler applies one inbox entry. Handlers must tolerate redelivery.
type Handler interface {
	Handle(ctx context.Context, entry models.WebhookInboxEntry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, entry models.WebhookInboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry models.WebhookInboxEntry) error {
	return f(ctx, entry)
}

type ServiceParams struct {
	Repository Repository
	Handler    Handler
	Metrics    *metrics.InboxMetrics
	Logger     *logger.Logger
	BatchSize  int
	MaxRetries int

	// ItemTimeout bounds a single handler call.
	ItemTimeout time.Duration
	NowFunc     func() time.Time
}

type Service struct {
	repo        Repository
	handler     Handler
	metrics     *metrics.InboxMetrics
	logg        *logger.Logger
	batchSize   int
	maxRetries  int
	itemTimeout time.Duration
	now         func() time.Time
}

// DrainResult summarizes one pass over the inbox.
type DrainResult struct {
	Selected  int
	Processed int
	Failed    int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, errors.New("inbox repository is required")
	}
	if params.Handler == nil {
		return nil, errors.New("inbox handler is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	retries := params.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	itemTimeout := params.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = DefaultItemTimeout
	}
	now := params.NowFunc
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        params.Repository,
		handler:     params.Handler,
		metrics:     params.Metrics,
		logg:        params.Logger,
		batchSize:   batch,
		maxRetries:  retries,
		itemTimeout: itemTimeout,
		now:         now,
	}, nil
}

// MaxDrainDuration is the longest a single Drain pass can spend in handlers.
func (s *Service) MaxDrainDuration() time.Duration {
	return time.Duration(s.batchSize) * s.itemTimeout
}

// Enqueue stores a provider event for later processing. Redelivery of a known
// event reports inserted=false and is not an error.
func (s *Service) Enqueue(ctx context.Context, provider, eventID, eventType string, payload json.RawMessage) (bool, error) {
	inserted, err := s.repo.Enqueue(ctx, provider, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	s.metrics.IncReceived(provider, inserted)
	if !inserted {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{"provider": provider, "event_id": eventID}), "duplicate webhook ignored")
	}
	return inserted, nil
}

// Drain runs one finite pass over up to batchSize pending entries. Entry
// failures are recorded on the entry and returned combined; they never stop
// the pass.
func (s *Service) Drain(ctx context.Context) (DrainResult, error) {
	entries, err := s.repo.ListPending(ctx, s.batchSize, s.maxRetries)
	if err != nil {
		return DrainResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending webhooks")
	}
	result := DrainResult{Selected: len(entries)}
	var errs error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		if err := s.ProcessOne(ctx, entry); err != nil {
			result.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		result.Processed++
	}
	return result, errs
}

// ProcessOne applies a single entry. An already processed entry is a no-op.
// On failure the retry counter and error message are recorded and the entry
// stays pending.
func (s *Service) ProcessOne(ctx context.Context, entry models.WebhookInboxEntry) error {
	if entry.Status == enums.WebhookStatusProcessed {
		return nil
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"webhook_id": entry.ID.String(),
		"event_id":   entry.EventID,
		"event_type": entry.EventType,
	})

	handleCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	handleErr := s.handler.Handle(handleCtx, entry)
	cancel()
	if handleErr != nil {
		s.metrics.IncFailed(entry.EventType)
		s.logg.Warn(s.logg.WithField(ctx, "retry_count", entry.RetryCount+1), "webhook processing failed: "+handleErr.Error())
		if err := s.repo.MarkFailed(ctx, entry.ID, truncate(handleErr.Error(), maxErrorMessageLen)); err != nil {
			return multierr.Append(handleErr, err)
		}
		return handleErr
	}

	if _, err := s.repo.MarkProcessed(ctx, entry.ID, s.now()); err != nil {
		return err
	}
	s.metrics.IncProcessed(entry.EventType)
	return nil
}

// Cleanup deletes processed entries created more than olderThanDays days ago.
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = DefaultRetentionDays
	}
	cutoff := s.now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	return s.repo.DeleteProcessedBefore(ctx, cutoff)
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
