package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/email"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeReportStore struct {
	reports    []models.MorningReport
	sent       map[uuid.UUID]string
	lastErrors map[uuid.UUID]string
}

func (f *fakeReportStore) ListForDispatch(_ context.Context, _ time.Time, _ []uuid.UUID, _ bool) ([]models.MorningReport, error) {
	return f.reports, nil
}

func (f *fakeReportStore) MarkSent(_ context.Context, id uuid.UUID, messageID string, _ bool) error {
	if f.sent == nil {
		f.sent = make(map[uuid.UUID]string)
	}
	f.sent[id] = messageID
	return nil
}

func (f *fakeReportStore) SetLastError(_ context.Context, id uuid.UUID, message string) error {
	if f.lastErrors == nil {
		f.lastErrors = make(map[uuid.UUID]string)
	}
	f.lastErrors[id] = message
	return nil
}

type fakeContactStore struct {
	participants map[uuid.UUID]*models.Participant
	lookups      int
}

func (f *fakeContactStore) GetByID(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	f.lookups++
	p, ok := f.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant not found")
	}
	return p, nil
}

type fakeBudget struct {
	denials int
	blocked []time.Duration
	allowed int
}

func (f *fakeBudget) Allow(_ context.Context, _ string, _ int64, _ time.Duration) (*redis.RateLimitResult, error) {
	if f.denials > 0 {
		f.denials--
		return &redis.RateLimitResult{Allowed: false, RetryIn: 200 * time.Millisecond}, nil
	}
	f.allowed++
	return &redis.RateLimitResult{Allowed: true}, nil
}

func (f *fakeBudget) BlockFor(_ context.Context, _ string, d time.Duration) error {
	f.blocked = append(f.blocked, d)
	return nil
}

type fakeLogStore struct {
	started   []models.PipelineStage
	completed int
	failed    int
}

func (f *fakeLogStore) Start(_ context.Context, stage models.PipelineStage, _ *uuid.UUID) (uuid.UUID, error) {
	f.started = append(f.started, stage)
	return uuid.New(), nil
}

func (f *fakeLogStore) Complete(_ context.Context, _ uuid.UUID, _ map[string]any) error {
	f.completed++
	return nil
}

func (f *fakeLogStore) Fail(_ context.Context, _ uuid.UUID, _ map[string]any, _ string) error {
	f.failed++
	return nil
}

type fakeSender struct {
	messages []*email.Message
	errs     []error
	calls    int
}

func (f *fakeSender) Send(_ context.Context, msg *email.Message) (*email.SendResult, error) {
	f.calls++
	f.messages = append(f.messages, msg)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &email.SendResult{MessageID: fmt.Sprintf("msg-%d", f.calls)}, nil
}

func strPtr(s string) *string { return &s }

func testReport(participantID uuid.UUID) models.MorningReport {
	return models.MorningReport{
		ID:            uuid.New(),
		ParticipantID: participantID,
		ReportDate:    time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		MatchCount:    1,
		Notifications: database.JSONB[[]models.MatchNotification]{Data: []models.MatchNotification{
			{MatchID: uuid.New(), CounterpartName: "Bob", CounterpartHandle: "bob", CompatibilityScore: 0.8},
		}},
	}
}

func testDispatcher(reports *fakeReportStore, contacts *fakeContactStore, sender *fakeSender, budget *fakeBudget) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(reports, contacts, sender, budget, &fakeLogStore{}, nil, Config{
		FromAddress:     "reports@example.com",
		FallbackAddress: "unknown@example.com",
	}, testLogger())

	var sleeps []time.Duration
	d.sleep = func(_ context.Context, delay time.Duration) error {
		sleeps = append(sleeps, delay)
		return nil
	}
	return d, &sleeps
}

func TestRunSendsAndFlagsReports(t *testing.T) {
	participant := &models.Participant{
		ID:       uuid.New(),
		FullName: "Alice",
		Email:    strPtr("alice@example.com"),
	}
	rep := testReport(participant.ID)

	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	sender := &fakeSender{}
	d, _ := testDispatcher(reports, contacts, sender, &fakeBudget{})

	summary, err := d.Run(context.Background(), rep.ReportDate, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 0, summary.Failed)

	require.Len(t, sender.messages, 1)
	assert.Equal(t, []string{"alice@example.com"}, sender.messages[0].To)
	assert.Equal(t, "reports@example.com", sender.messages[0].From)
	assert.Equal(t, "msg-1", reports.sent[rep.ID])
}

func TestRunDryRunSendsNothing(t *testing.T) {
	rep := testReport(uuid.New())
	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	sender := &fakeSender{}
	d, _ := testDispatcher(reports, &fakeContactStore{}, sender, &fakeBudget{})

	summary, err := d.Run(context.Background(), rep.ReportDate, nil, false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DryRun)
	assert.Equal(t, 0, summary.Sent)
	assert.Zero(t, sender.calls)
	assert.Empty(t, reports.sent)
}

func TestRunUsesFallbackAddress(t *testing.T) {
	participant := &models.Participant{ID: uuid.New(), FullName: "No Email"}
	rep := testReport(participant.ID)

	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	sender := &fakeSender{}
	d, _ := testDispatcher(reports, contacts, sender, &fakeBudget{})

	_, err := d.Run(context.Background(), rep.ReportDate, nil, false, false)
	require.NoError(t, err)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, []string{"unknown@example.com"}, sender.messages[0].To)
}

func TestRunCachesContactLookups(t *testing.T) {
	participant := &models.Participant{ID: uuid.New(), FullName: "Alice", Email: strPtr("alice@example.com")}
	repA := testReport(participant.ID)
	repB := testReport(participant.ID)

	reports := &fakeReportStore{reports: []models.MorningReport{repA, repB}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	d, _ := testDispatcher(reports, contacts, &fakeSender{}, &fakeBudget{})

	_, err := d.Run(context.Background(), repA.ReportDate, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, contacts.lookups)
}

func TestSendRetriesRateLimit(t *testing.T) {
	participant := &models.Participant{ID: uuid.New(), FullName: "Alice", Email: strPtr("alice@example.com")}
	rep := testReport(participant.ID)

	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	budget := &fakeBudget{}
	sender := &fakeSender{errs: []error{
		&email.SendError{StatusCode: 429, RateLimited: true, RetryAfter: 2 * time.Second},
		nil,
	}}
	d, sleeps := testDispatcher(reports, contacts, sender, budget)

	summary, err := d.Run(context.Background(), rep.ReportDate, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 2, sender.calls)

	// Provider Retry-After blocks the shared budget, then backoff sleeps
	assert.Equal(t, []time.Duration{2 * time.Second}, budget.blocked)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, DefaultRetryBaseDelay, (*sleeps)[0])
}

func TestSendGivesUpAfterMaxRetries(t *testing.T) {
	participant := &models.Participant{ID: uuid.New(), FullName: "Alice", Email: strPtr("alice@example.com")}
	rep := testReport(participant.ID)

	rateLimited := &email.SendError{StatusCode: 429, RateLimited: true}
	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	sender := &fakeSender{errs: []error{rateLimited, rateLimited, rateLimited, rateLimited}}
	d, sleeps := testDispatcher(reports, contacts, sender, &fakeBudget{})

	summary, err := d.Run(context.Background(), rep.ReportDate, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, DefaultMaxRetries+1, sender.calls)
	assert.Contains(t, reports.lastErrors[rep.ID], "exhausted")

	// Exponential backoff between attempts: 1s, 2s, 4s
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestSendDoesNotRetryHardFailures(t *testing.T) {
	participant := &models.Participant{ID: uuid.New(), FullName: "Alice", Email: strPtr("alice@example.com")}
	rep := testReport(participant.ID)

	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	sender := &fakeSender{errs: []error{&email.SendError{StatusCode: 422, Body: "invalid recipient"}}}
	d, _ := testDispatcher(reports, contacts, sender, &fakeBudget{})

	summary, err := d.Run(context.Background(), rep.ReportDate, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, sender.calls)
}

func TestWaitForBudgetSleepsUntilAllowed(t *testing.T) {
	participant := &models.Participant{ID: uuid.New(), FullName: "Alice", Email: strPtr("alice@example.com")}
	rep := testReport(participant.ID)

	reports := &fakeReportStore{reports: []models.MorningReport{rep}}
	contacts := &fakeContactStore{participants: map[uuid.UUID]*models.Participant{participant.ID: participant}}
	budget := &fakeBudget{denials: 2}
	d, sleeps := testDispatcher(reports, contacts, &fakeSender{}, budget)

	summary, err := d.Run(context.Background(), rep.ReportDate, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestBackoffDelayCaps(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(0, time.Second, 8*time.Second))
	assert.Equal(t, 2*time.Second, backoffDelay(1, time.Second, 8*time.Second))
	assert.Equal(t, 4*time.Second, backoffDelay(2, time.Second, 8*time.Second))
	assert.Equal(t, 8*time.Second, backoffDelay(3, time.Second, 8*time.Second))
	assert.Equal(t, 8*time.Second, backoffDelay(6, time.Second, 8*time.Second))
}
