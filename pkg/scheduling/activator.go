// Package scheduling promotes analyzed matches into a conversation window and
// activates them when the window arrives.
package scheduling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/redis"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

var (
	// ErrActivatorAlreadyRunning is returned when trying to start an already running activator
	ErrActivatorAlreadyRunning = errors.New("activator already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling runs
	DefaultPollInterval = time.Minute

	// DefaultLockTTL is the default TTL for the scheduling lock
	DefaultLockTTL = 60 * time.Second

	// DefaultBatchSize is the number of matches to process per poll
	DefaultBatchSize = 100

	// DefaultScoreThreshold is the compatibility score required for a
	// conversation window
	DefaultScoreThreshold = 0.7

	// DefaultUTCOffsetHours is the fallback offset when a participant has no
	// usable timezone
	DefaultUTCOffsetHours = -8

	// lockKey guards against overlapping scheduling cycles
	lockKey = "activation"
)

// MatchStore is the match persistence the activator needs
type MatchStore interface {
	ListPromotable(ctx context.Context, threshold float64, limit int) ([]models.Match, error)
	Schedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Match, error)
	Transition(ctx context.Context, id uuid.UUID, from, to models.MatchStatus) error
}

// ParticipantStore resolves the timezone a conversation window is anchored to
type ParticipantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// LogStore records the audit trail for scheduling cycles
type LogStore interface {
	Start(ctx context.Context, stage models.PipelineStage, refID *uuid.UUID) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, detail map[string]any) error
}

// Locker serializes cycles across instances
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Config holds configuration for the activator
type Config struct {
	// PollInterval is how often to run a scheduling cycle
	PollInterval time.Duration

	// LockTTL is how long to hold the scheduling lock
	LockTTL time.Duration

	// BatchSize is the maximum number of matches to process per poll
	BatchSize int

	// ScoreThreshold is the minimum compatibility score for promotion
	ScoreThreshold float64

	// DefaultUTCOffsetHours anchors windows for participants without a timezone
	DefaultUTCOffsetHours int
}

// DefaultConfig returns the default activator configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:          DefaultPollInterval,
		LockTTL:               DefaultLockTTL,
		BatchSize:             DefaultBatchSize,
		ScoreThreshold:        DefaultScoreThreshold,
		DefaultUTCOffsetHours: DefaultUTCOffsetHours,
	}
}

// Summary reports what a scheduling cycle did
type Summary struct {
	Promoted  int `json:"promoted"`
	Due       int `json:"due"`
	Activated int `json:"activated"`
	Skipped   int `json:"skipped"`
}

// Activator runs the scheduling cycle: analyzed matches above the score
// threshold get a conversation window at the next local midnight, and
// scheduled matches whose window has arrived move to active.
type Activator struct {
	matches      MatchStore
	participants ParticipantStore
	logs         LogStore
	locker       Locker
	producer     *kafka.Producer
	config       Config
	logger       ectologger.Logger
	now          func() time.Time

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewActivator creates a new activator
func NewActivator(
	matches MatchStore,
	participants ParticipantStore,
	logs LogStore,
	locker Locker,
	producer *kafka.Producer,
	config Config,
	logger ectologger.Logger,
) *Activator {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.ScoreThreshold <= 0 {
		config.ScoreThreshold = DefaultScoreThreshold
	}
	if config.DefaultUTCOffsetHours == 0 {
		config.DefaultUTCOffsetHours = DefaultUTCOffsetHours
	}

	return &Activator{
		matches:      matches,
		participants: participants,
		logs:         logs,
		locker:       locker,
		producer:     producer,
		config:       config,
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		stoppedC:     make(chan struct{}),
	}
}

// Start starts the activator
func (a *Activator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrActivatorAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	a.logger.WithContext(ctx).Infof("Starting activator: poll_interval=%s batch_size=%d score_threshold=%.2f",
		a.config.PollInterval, a.config.BatchSize, a.config.ScoreThreshold)

	go a.pollLoop(ctx)

	return nil
}

// Stop stops the activator gracefully
func (a *Activator) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.WithContext(ctx).Info("Stopping activator...")

	close(a.stopCh)

	select {
	case <-a.stoppedC:
		a.logger.WithContext(ctx).Info("Activator stopped gracefully")
	case <-ctx.Done():
		a.logger.WithContext(ctx).Warn("Activator shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the activator is running
func (a *Activator) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// pollLoop continuously runs scheduling cycles
func (a *Activator) pollLoop(ctx context.Context) {
	defer close(a.stoppedC)

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	a.runCycle(ctx)

	for {
		select {
		case <-a.stopCh:
			a.logger.WithContext(ctx).Debug("Activator poll loop stopping")
			return
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

func (a *Activator) runCycle(ctx context.Context) {
	if _, err := a.Cycle(ctx); err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			a.logger.WithContext(ctx).Debug("Scheduling cycle skipped: lock held elsewhere")
			return
		}
		a.logger.WithContext(ctx).WithError(err).Error("Scheduling cycle failed")
	}
}

// Cycle promotes and activates matches under the scheduling lock. Also
// invoked directly by the HTTP trigger.
func (a *Activator) Cycle(ctx context.Context) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "Activator.Cycle")
	defer span.End()

	var summary *Summary
	err := a.locker.WithLock(ctx, lockKey, a.config.LockTTL, func() error {
		var err error
		summary, err = a.cycle(ctx)
		return err
	})
	return summary, err
}

func (a *Activator) cycle(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	if err := a.promote(ctx, summary); err != nil {
		return nil, err
	}
	if err := a.activate(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// promote gives every analyzed match at or above the score threshold a
// conversation window at the next midnight in participant A's timezone.
// Below-threshold matches stay analyzed and surface in digests directly.
func (a *Activator) promote(ctx context.Context, summary *Summary) error {
	promotable, err := a.matches.ListPromotable(ctx, a.config.ScoreThreshold, a.config.BatchSize)
	if err != nil {
		return err
	}
	if len(promotable) == 0 {
		return nil
	}

	for i := range promotable {
		match := &promotable[i]
		scheduledAt, err := a.windowFor(ctx, match.ParticipantAID)
		if err != nil {
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"match_id": match.ID,
			}).Error("Failed to resolve conversation window")
			continue
		}

		if err := a.matches.Schedule(ctx, match.ID, scheduledAt); err != nil {
			// Raced with another scheduler; the guard already kept it safe
			summary.Skipped++
			continue
		}

		summary.Promoted++
		metrics.MatchesScheduledTotal.Inc()

		a.producer.Publish(ctx, &kafka.PipelineEvent{
			Type:    kafka.EventMatchScheduled,
			Stage:   string(models.StageActivation),
			MatchID: match.ID.String(),
			Status:  string(models.MatchStatusScheduled),
		})
	}

	a.logger.WithContext(ctx).Infof("Promotion pass completed: promotable=%d promoted=%d",
		len(promotable), summary.Promoted)
	return nil
}

func (a *Activator) activate(ctx context.Context, summary *Summary) error {
	due, err := a.matches.ListDue(ctx, a.now().UTC(), a.config.BatchSize)
	if err != nil {
		return err
	}

	summary.Due = len(due)
	if len(due) == 0 && summary.Promoted == 0 {
		a.logger.WithContext(ctx).Debug("No matches due for activation")
		return nil
	}

	// Idle cycles stay out of the audit trail
	logID, err := a.logs.Start(ctx, models.StageActivation, nil)
	if err != nil {
		return err
	}

	for i := range due {
		match := &due[i]
		if err := a.matches.Transition(ctx, match.ID, models.MatchStatusScheduled, models.MatchStatusActive); err != nil {
			summary.Skipped++
			continue
		}

		summary.Activated++
		metrics.MatchesActivatedTotal.Inc()

		a.producer.Publish(ctx, &kafka.PipelineEvent{
			Type:    kafka.EventMatchActivated,
			Stage:   string(models.StageActivation),
			MatchID: match.ID.String(),
			Status:  string(models.MatchStatusActive),
		})
	}

	detail := map[string]any{
		"promoted":  summary.Promoted,
		"due":       summary.Due,
		"activated": summary.Activated,
		"skipped":   summary.Skipped,
	}
	if err := a.logs.Complete(ctx, logID, detail); err != nil {
		return err
	}

	a.logger.WithContext(ctx).Infof("Scheduling cycle completed: promoted=%d due=%d activated=%d skipped=%d",
		summary.Promoted, summary.Due, summary.Activated, summary.Skipped)
	return nil
}

// windowFor computes the next midnight in the participant's timezone. Unknown
// or missing timezones fall back to a fixed UTC offset.
func (a *Activator) windowFor(ctx context.Context, participantID uuid.UUID) (time.Time, error) {
	participant, err := a.participants.GetByID(ctx, participantID)
	if err != nil {
		return time.Time{}, err
	}
	return a.nextLocalMidnight(participant.Timezone), nil
}

func (a *Activator) nextLocalMidnight(timezone *string) time.Time {
	loc := time.FixedZone("default", a.config.DefaultUTCOffsetHours*3600)
	if timezone != nil && *timezone != "" {
		if parsed, err := time.LoadLocation(*timezone); err == nil {
			loc = parsed
		}
	}

	local := a.now().In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return midnight.UTC()
}
