package cron

import (
	"context"
	"fmt"

	"github.com/tickettoken/settlement/pkg/logger"
)

type inboxCleaner interface {
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

type InboxCleanupJobParams struct {
	Logger        *logger.Logger
	Inbox         inboxCleaner
	RetentionDays int
}

// NewInboxCleanupJob removes processed webhook inbox rows past retention.
// Pending rows are never touched.
func NewInboxCleanupJob(params InboxCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Inbox == nil {
		return nil, fmt.Errorf("webhook inbox required")
	}
	return &inboxCleanupJob{
		logg:  params.Logger,
		inbox: params.Inbox,
		days:  params.RetentionDays,
	}, nil
}

type inboxCleanupJob struct {
	logg  *logger.Logger
	inbox inboxCleaner
	days  int
}

func (j *inboxCleanupJob) Name() string { return "webhook-inbox-cleanup" }

func (j *inboxCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.inbox.Cleanup(ctx, j.days)
	if err != nil {
		return fmt.Errorf("inbox cleanup: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_deleted", deleted), "webhook inbox cleanup complete")
	return nil
}
