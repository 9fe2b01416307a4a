// Package dispatch emails morning reports to participants under the
// provider's rate budget.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/cache"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/email"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/redis"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/report"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const (
	// DefaultRatePerSecond is the provider's request budget
	DefaultRatePerSecond = 2

	// DefaultMaxRetries is the retries on provider rate-limit responses
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay is the base delay for retry backoff
	DefaultRetryBaseDelay = time.Second

	// DefaultRetryMaxDelay caps the retry backoff
	DefaultRetryMaxDelay = 8 * time.Second

	// budgetKey is the rate limit key shared by all dispatcher sends
	budgetKey = "email"

	// minBudgetWait bounds the busy-wait when the budget window is full
	minBudgetWait = 50 * time.Millisecond
)

// ReportStore is the report access the dispatcher needs
type ReportStore interface {
	ListForDispatch(ctx context.Context, reportDate time.Time, participantIDs []uuid.UUID, includeSent bool) ([]models.MorningReport, error)
	MarkSent(ctx context.Context, id uuid.UUID, messageID string, force bool) error
	SetLastError(ctx context.Context, id uuid.UUID, message string) error
}

// ContactStore is the participant access the dispatcher needs
type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// RateBudget controls the outbound send rate
type RateBudget interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
	BlockFor(ctx context.Context, key string, d time.Duration) error
}

// LogStore records the audit trail for dispatch runs
type LogStore interface {
	Start(ctx context.Context, stage models.PipelineStage, refID *uuid.UUID) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, detail map[string]any) error
	Fail(ctx context.Context, id uuid.UUID, detail map[string]any, errorMessage string) error
}

// Config holds dispatcher configuration
type Config struct {
	FromAddress     string
	FallbackAddress string
	RatePerSecond   int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	ContactCacheTTL time.Duration
}

// Summary reports what a dispatch run did
type Summary struct {
	Reports int `json:"reports"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	DryRun  int `json:"dry_run"`
}

// contact is a cached recipient lookup
type contact struct {
	Name  string
	Email string
}

// Dispatcher sends morning report digests. The email_sent flag on each report
// is the sole send guard, so a crashed run resumes cleanly.
type Dispatcher struct {
	reports  ReportStore
	contacts ContactStore
	sender   email.Sender
	budget   RateBudget
	logs     LogStore
	cache    *cache.Cache[contact]
	producer *kafka.Producer
	config   Config
	logger   ectologger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a new report dispatcher
func NewDispatcher(
	reports ReportStore,
	contacts ContactStore,
	sender email.Sender,
	budget RateBudget,
	logs LogStore,
	producer *kafka.Producer,
	config Config,
	logger ectologger.Logger,
) *Dispatcher {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = DefaultRatePerSecond
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if config.ContactCacheTTL <= 0 {
		config.ContactCacheTTL = 5 * time.Minute
	}

	return &Dispatcher{
		reports:  reports,
		contacts: contacts,
		sender:   sender,
		budget:   budget,
		logs:     logs,
		cache:    cache.New[contact](config.ContactCacheTTL, nil),
		producer: producer,
		config:   config,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Run sends every unsent report for the date. With force set, already-sent
// reports are resent and re-flagged. With dryRun set, digests are rendered and
// counted but nothing is sent or flagged.
func (d *Dispatcher) Run(ctx context.Context, reportDate time.Time, participantIDs []uuid.UUID, force, dryRun bool) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Run")
	defer span.End()

	reportDate = report.ReportDate(reportDate)

	logID, err := d.logs.Start(ctx, models.StageReportDispatch, nil)
	if err != nil {
		return nil, err
	}

	reports, err := d.reports.ListForDispatch(ctx, reportDate, participantIDs, force)
	if err != nil {
		d.logs.Fail(ctx, logID, nil, err.Error())
		return nil, err
	}

	summary := &Summary{Reports: len(reports)}
	for i := range reports {
		rep := &reports[i]

		if dryRun {
			summary.DryRun++
			metrics.RecordEmail("dry_run", 0)
			continue
		}

		if err := d.dispatch(ctx, rep, force); err != nil {
			summary.Failed++
			d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"report_id": rep.ID,
			}).Error("Report dispatch failed")
			if err := d.reports.SetLastError(ctx, rep.ID, err.Error()); err != nil {
				d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"report_id": rep.ID,
				}).Error("Failed to record dispatch error")
			}
			continue
		}
		summary.Sent++
	}

	detail := map[string]any{
		"reports": summary.Reports,
		"sent":    summary.Sent,
		"failed":  summary.Failed,
		"dry_run": summary.DryRun,
	}
	if err := d.logs.Complete(ctx, logID, detail); err != nil {
		return nil, err
	}

	d.logger.WithContext(ctx).Infof("Dispatch run completed: reports=%d sent=%d failed=%d dry_run=%d",
		summary.Reports, summary.Sent, summary.Failed, summary.DryRun)
	return summary, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, rep *models.MorningReport, force bool) error {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.dispatch")
	defer span.End()

	recipient, err := d.lookupContact(ctx, rep.ParticipantID)
	if err != nil {
		return err
	}

	msg := &email.Message{
		From:    d.config.FromAddress,
		To:      []string{recipient.Email},
		Subject: renderSubject(rep),
		Text:    renderText(recipient.Name, rep),
		HTML:    renderHTML(recipient.Name, rep),
	}

	start := time.Now()
	result, err := d.sendWithRetry(ctx, msg)
	if err != nil {
		metrics.RecordEmail("failed", time.Since(start).Seconds())
		return err
	}
	metrics.RecordEmail("sent", time.Since(start).Seconds())

	if err := d.reports.MarkSent(ctx, rep.ID, result.MessageID, force); err != nil {
		return err
	}

	d.producer.Publish(ctx, &kafka.PipelineEvent{
		Type:   kafka.EventReportSent,
		Stage:  string(models.StageReportDispatch),
		RefID:  rep.ID.String(),
		Status: "sent",
	})

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"report_id":  rep.ID,
		"message_id": result.MessageID,
	}).Infof("Sent report to %s", recipient.Email)
	return nil
}

// lookupContact resolves a recipient, caching the lookup. Participants
// without an email address get the fallback recipient.
func (d *Dispatcher) lookupContact(ctx context.Context, participantID uuid.UUID) (*contact, error) {
	key := participantID.String()
	if cached, ok := d.cache.Get(key); ok {
		return &cached, nil
	}

	participant, err := d.contacts.GetByID(ctx, participantID)
	if err != nil {
		return nil, err
	}

	c := contact{Name: participant.FullName, Email: d.config.FallbackAddress}
	if participant.Email != nil && *participant.Email != "" {
		c.Email = *participant.Email
	}

	d.cache.Set(key, c)
	return &c, nil
}

// sendWithRetry sends under the provider budget, retrying rate-limit
// rejections with exponential backoff.
func (d *Dispatcher) sendWithRetry(ctx context.Context, msg *email.Message) (*email.SendResult, error) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if err := d.waitForBudget(ctx); err != nil {
			return nil, err
		}

		result, err := d.sender.Send(ctx, msg)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var sendErr *email.SendError
		if !errors.As(err, &sendErr) || !sendErr.RateLimited {
			return nil, err
		}

		metrics.RecordEmail("rate_limited", 0)
		if sendErr.RetryAfter > 0 {
			if blockErr := d.budget.BlockFor(ctx, budgetKey, sendErr.RetryAfter); blockErr != nil {
				d.logger.WithContext(ctx).WithError(blockErr).Warn("Failed to block email budget")
			}
		}

		if attempt == d.config.MaxRetries {
			break
		}

		delay := backoffDelay(attempt, d.config.RetryBaseDelay, d.config.RetryMaxDelay)
		d.logger.WithContext(ctx).Warnf("Email rate limited, retrying in %s (attempt %d/%d)",
			delay, attempt+1, d.config.MaxRetries)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("email send exhausted %d retries: %w", d.config.MaxRetries, lastErr)
}

// waitForBudget blocks until the sliding-window budget admits a send
func (d *Dispatcher) waitForBudget(ctx context.Context) error {
	start := time.Now()
	for {
		res, err := d.budget.Allow(ctx, budgetKey, int64(d.config.RatePerSecond), time.Second)
		if err != nil {
			return err
		}
		if res.Allowed {
			metrics.RateLimitWaitTime.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := res.RetryIn
		if wait < minBudgetWait {
			wait = minBudgetWait
		}
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base << attempt
	if delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
