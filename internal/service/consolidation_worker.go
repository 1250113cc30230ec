package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	"github.com/noah-isme/mailtrack-api/pkg/config"
	"github.com/noah-isme/mailtrack-api/pkg/jobs"
)

const jobTypeConsolidate = "consolidate_remarks"

type consolidationStore interface {
	FindByID(ctx context.Context, id string) (*models.MailRecord, error)
	ApplyConsolidation(ctx context.Context, id, consolidated string, status models.MailStatus, at time.Time) error
}

type assignmentLister interface {
	ListByMail(ctx context.Context, mailID string) ([]models.Assignment, error)
}

// ConsolidationWorker refreshes a mail's consolidated remarks and derived
// status in the background after assignment changes.
type ConsolidationWorker struct {
	mails       consolidationStore
	assignments assignmentLister
	metrics     *MetricsService
	logger      *zap.Logger
	queue       *jobs.Queue
	now         func() time.Time
}

// NewConsolidationWorker wires the worker to its own queue.
func NewConsolidationWorker(mails consolidationStore, assignments assignmentLister, metrics *MetricsService, logger *zap.Logger, cfg config.WorkersConfig) *ConsolidationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &ConsolidationWorker{
		mails:       mails,
		assignments: assignments,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	w.queue = jobs.NewQueue("consolidation", w.handle, jobs.QueueConfig{
		Workers:    cfg.Concurrency,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return w
}

// Start launches the workers.
func (w *ConsolidationWorker) Start(ctx context.Context) { w.queue.Start(ctx) }

// Stop drains the workers.
func (w *ConsolidationWorker) Stop() { w.queue.Stop() }

// Schedule queues a refresh for mailID. Requests for a mail that is already
// waiting are coalesced.
func (w *ConsolidationWorker) Schedule(mailID string) {
	if _, err := w.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: jobTypeConsolidate, Key: mailID, Payload: mailID}); err != nil {
		w.logger.Warn("failed to schedule consolidation", zap.String("mail_id", mailID), zap.Error(err))
	}
}

func (w *ConsolidationWorker) handle(ctx context.Context, job jobs.Job) (err error) {
	start := time.Now()
	defer func() { w.metrics.ObserveJob(job.Type, err, time.Since(start)) }()

	mailID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	return w.Refresh(ctx, mailID)
}

// Refresh recomputes and stores the consolidated remarks of one mail.
func (w *ConsolidationWorker) Refresh(ctx context.Context, mailID string) error {
	mail, err := w.mails.FindByID(ctx, mailID)
	if err != nil {
		return fmt.Errorf("load mail %s: %w", mailID, err)
	}
	assignments, err := w.assignments.ListByMail(ctx, mailID)
	if err != nil {
		return fmt.Errorf("load assignments of %s: %w", mailID, err)
	}
	status := policy.DeriveMailStatus(mail.Status, assignments)
	if err := w.mails.ApplyConsolidation(ctx, mailID, Consolidate(assignments), status, w.now()); err != nil {
		return err
	}
	w.logger.Debug("consolidated remarks refreshed", zap.String("mail_id", mailID), zap.String("status", string(status)))
	return nil
}

// Consolidate renders one line per Active or Completed assignment that has a
// remark, oldest assignment first, using its latest remark:
//
//	[DONE] Name: remark
//	---
//	[IN PROGRESS] Name: remark
func Consolidate(assignments []models.Assignment) string {
	sorted := append([]models.Assignment(nil), assignments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	parts := make([]string, 0, len(sorted))
	for _, a := range sorted {
		if a.Status == models.AssignmentRevoked {
			continue
		}
		remark := latestRemark(a)
		if remark == "" {
			continue
		}
		label := "[IN PROGRESS]"
		if a.Status == models.AssignmentCompleted {
			label = "[DONE]"
		}
		parts = append(parts, fmt.Sprintf("%s %s: %s", label, a.AssignedToName, remark))
	}
	return strings.Join(parts, "\n---\n")
}

func latestRemark(a models.Assignment) string {
	for i := len(a.Events) - 1; i >= 0; i-- {
		if a.Events[i].Kind == models.EventRemark {
			return strings.TrimSpace(a.Events[i].Content)
		}
	}
	return ""
}
