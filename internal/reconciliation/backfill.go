package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
	"github.com/tickettoken/settlement/pkg/provider"
)

const defaultLookback = time.Hour

type inbox interface {
	Enqueue(ctx context.Context, provider, eventID, eventType string, payload json.RawMessage) (bool, error)
}

type WebhookBackfillJobParams struct {
	Provider     provider.Client
	ProviderName string
	Inbox        inbox
	Metrics      *metrics.ReconciliationMetrics
	Logger       *logger.Logger
	Lookback     time.Duration
}

// WebhookBackfillJob enqueues provider events from the lookback window that
// never reached the inbox. Events already present are left untouched.
type WebhookBackfillJob struct {
	provider     provider.Client
	providerName string
	inbox        inbox
	metrics      *metrics.ReconciliationMetrics
	logg         *logger.Logger
	lookback     time.Duration
	now          func() time.Time
}

func NewWebhookBackfillJob(params WebhookBackfillJobParams) (*WebhookBackfillJob, error) {
	switch {
	case params.Provider == nil:
		return nil, errors.New("payment provider required")
	case params.Inbox == nil:
		return nil, errors.New("webhook inbox required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	name := params.ProviderName
	if name == "" {
		name = provider.NameStripe
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &WebhookBackfillJob{
		provider:     params.Provider,
		providerName: name,
		inbox:        params.Inbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
		lookback:     lookback,
		now:          time.Now,
	}, nil
}

func (j *WebhookBackfillJob) Name() string { return "missing-webhook-backfill" }

func (j *WebhookBackfillJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	events, err := j.provider.ListEvents(ctx, since)
	if err != nil {
		j.metrics.IncError("backfill")
		return fmt.Errorf("list provider events: %w", err)
	}

	var errs error
	inserted := 0
	for _, ev := range events {
		added, err := j.inbox.Enqueue(ctx, j.providerName, ev.ID, ev.Type, ev.Payload)
		if err != nil {
			j.metrics.IncError("backfill")
			errs = multierr.Append(errs, fmt.Errorf("event %s: %w", ev.ID, err))
			continue
		}
		if added {
			inserted++
		}
	}
	j.metrics.AddBackfilled(inserted)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"since":    since,
		"listed":   len(events),
		"inserted": inserted,
	}), "webhook backfill complete")
	return errs
}
