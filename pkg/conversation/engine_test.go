package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeMatchStore struct {
	match       *models.Match
	transitions [][2]models.MatchStatus
	failedWith  string
}

func (f *fakeMatchStore) GetByID(_ context.Context, id uuid.UUID) (*models.Match, error) {
	if f.match == nil || f.match.ID != id {
		return nil, fmt.Errorf("match not found")
	}
	return f.match, nil
}

func (f *fakeMatchStore) Transition(_ context.Context, _ uuid.UUID, from, to models.MatchStatus) error {
	f.transitions = append(f.transitions, [2]models.MatchStatus{from, to})
	f.match.Status = to
	return nil
}

func (f *fakeMatchStore) MarkFailed(_ context.Context, _ uuid.UUID, errorMessage string) error {
	f.failedWith = errorMessage
	f.match.Status = models.MatchStatusFailed
	return nil
}

type fakeConversationStore struct {
	active     *models.Conversation
	count      int
	turns      []models.ConversationTurn
	completed  []uuid.UUID
	result     *models.ConversationResult
	failedWith string
	turnErrAt  int
}

func (f *fakeConversationStore) Create(_ context.Context, c *models.Conversation) error {
	c.ID = uuid.New()
	c.Status = models.ConversationStatusActive
	return nil
}

func (f *fakeConversationStore) GetActiveByMatch(_ context.Context, _ uuid.UUID) (*models.Conversation, error) {
	return f.active, nil
}

func (f *fakeConversationStore) CountByMatch(_ context.Context, _ uuid.UUID) (int, error) {
	return f.count, nil
}

func (f *fakeConversationStore) AddTurn(_ context.Context, turn *models.ConversationTurn) error {
	if f.turnErrAt > 0 && turn.TurnNumber == f.turnErrAt {
		return fmt.Errorf("write failed")
	}
	f.turns = append(f.turns, *turn)
	return nil
}

func (f *fakeConversationStore) MarkCompleted(_ context.Context, id uuid.UUID, result *models.ConversationResult) error {
	f.completed = append(f.completed, id)
	f.result = result
	return nil
}

func (f *fakeConversationStore) MarkFailed(_ context.Context, _ uuid.UUID, errorMessage string) error {
	f.failedWith = errorMessage
	return nil
}

type fakeParticipantStore struct {
	participants map[uuid.UUID]*models.Participant
}

func (f *fakeParticipantStore) GetByID(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	p, ok := f.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant not found")
	}
	return p, nil
}

type fakeInsightStore struct {
	insights []models.Insight
}

func (f *fakeInsightStore) ListByMatch(_ context.Context, _ uuid.UUID) ([]models.Insight, error) {
	return f.insights, nil
}

type fakeOutcomeRunner struct {
	calls []uuid.UUID
	err   error
}

func (f *fakeOutcomeRunner) Analyze(_ context.Context, conversationID uuid.UUID, _ bool) (*models.Outcome, error) {
	f.calls = append(f.calls, conversationID)
	return &models.Outcome{ConversationID: conversationID}, f.err
}

const validSummaryJSON = `{"actual_outcome": "introduction recommended", "quality_score": 0.82, "summary": "A productive exchange.", "key_moments": ["agreed to an intro call"]}`

type fakeModel struct {
	prompts        []string
	systems        []string
	failAt         int
	summaryContent string
}

func (f *fakeModel) GenerateWithSystem(_ context.Context, systemPrompt, userPrompt string) (*completion.Result, error) {
	call := len(f.prompts) + 1
	if f.failAt > 0 && call == f.failAt {
		return nil, fmt.Errorf("model unavailable")
	}
	f.systems = append(f.systems, systemPrompt)
	f.prompts = append(f.prompts, userPrompt)

	if systemPrompt == summarySystemPrompt {
		content := f.summaryContent
		if content == "" {
			content = validSummaryJSON
		}
		return &completion.Result{Content: content, PromptTokens: 20, CompletionTokens: 8}, nil
	}
	return &completion.Result{
		Content:          fmt.Sprintf("message %d", call),
		PromptTokens:     10,
		CompletionTokens: 5,
	}, nil
}

func testParticipant(name, role string) *models.Participant {
	return &models.Participant{
		ID:       uuid.New(),
		Handle:   name,
		FullName: name,
		AgentProfile: database.JSONB[models.AgentProfile]{
			Data: models.AgentProfile{Role: role},
		},
		Status: models.ParticipantStatusActive,
	}
}

func testEngine(matches *fakeMatchStore, conversations *fakeConversationStore, participants *fakeParticipantStore, insights *fakeInsightStore, outcomes *fakeOutcomeRunner, model *fakeModel) *Engine {
	return NewEngine(matches, conversations, participants, insights, outcomes, model, nil, Config{}, testLogger())
}

func TestExecuteRunsSixAlternatingTurns(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	outcomes := &fakeOutcomeRunner{}
	model := &fakeModel{}

	conv, err := testEngine(matches, conversations, participants, &fakeInsightStore{}, outcomes, model).Execute(context.Background(), matches.match.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.Equal(t, models.ConversationStatusCompleted, conv.Status)
	assert.Equal(t, models.ConversationTurnCount, conv.TurnCount)
	require.Len(t, conversations.turns, 6)

	// Six turns plus the close-out call
	assert.Len(t, model.prompts, 7)

	// Odd turns speak as A, even turns as B; every turn carries an
	// alignment score inside the reported band
	for i, turn := range conversations.turns {
		assert.Equal(t, i+1, turn.TurnNumber)
		if turn.TurnNumber%2 == 1 {
			assert.Equal(t, a.ID, turn.SpeakerParticipantID)
		} else {
			assert.Equal(t, b.ID, turn.SpeakerParticipantID)
		}
		assert.GreaterOrEqual(t, turn.AlignmentScore, models.AlignmentScoreMin)
		assert.LessOrEqual(t, turn.AlignmentScore, models.AlignmentScoreMax)
	}

	// Opening turn sees the empty-history placeholder, later turns the transcript
	assert.Contains(t, model.prompts[0], emptyHistoryPlaceholder)
	assert.NotContains(t, model.prompts[1], emptyHistoryPlaceholder)
	assert.Contains(t, model.prompts[1], "message 1")

	// The close-out ran over the full transcript and its result was stored
	assert.Contains(t, model.prompts[6], "message 1")
	assert.Contains(t, model.prompts[6], "message 6")
	require.NotNil(t, conversations.result)
	assert.Equal(t, "introduction recommended", conversations.result.ActualOutcome)
	assert.Equal(t, 0.82, conversations.result.QualityScore)
	assert.Equal(t, []string{"agreed to an intro call"}, conversations.result.KeyMoments)

	// Match moved to completed and the outcome ran inline
	require.Len(t, matches.transitions, 1)
	assert.Equal(t, models.MatchStatusActive, matches.transitions[0][0])
	assert.Equal(t, models.MatchStatusCompleted, matches.transitions[0][1])
	assert.Equal(t, []uuid.UUID{conv.ID}, outcomes.calls)
}

func TestExecuteInjectsAnalysisInsightsIntoPrompts(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	insights := &fakeInsightStore{insights: []models.Insight{
		{Type: models.InsightTypeOpportunity, Title: "Shared infra focus", Description: "Both build platform tooling"},
		{Type: models.InsightTypeSynergy, Title: "Complementary stages", Description: "One raises, one invests"},
		{Type: models.InsightTypeRisk, Title: "Competing side project", Description: "Left out of prompts"},
	}}
	model := &fakeModel{}

	_, err := testEngine(matches, &fakeConversationStore{}, participants, insights, &fakeOutcomeRunner{}, model).Execute(context.Background(), matches.match.ID)
	require.NoError(t, err)

	// Opportunity and synergy insights reach every turn prompt; risks don't
	for _, prompt := range model.prompts[:models.ConversationTurnCount] {
		assert.Contains(t, prompt, "Shared infra focus")
		assert.Contains(t, prompt, "Complementary stages")
		assert.NotContains(t, prompt, "Competing side project")
	}
}

func TestExecuteRejectsNonActiveMatch(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusScheduled,
	}}
	engine := testEngine(matches, &fakeConversationStore{}, &fakeParticipantStore{}, &fakeInsightStore{}, &fakeOutcomeRunner{}, &fakeModel{})

	_, err := engine.Execute(context.Background(), matches.match.ID)
	assert.ErrorContains(t, err, "not active")
}

func TestExecuteRejectsWhenConversationInFlight(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{active: &models.Conversation{ID: uuid.New()}}
	engine := testEngine(matches, conversations, &fakeParticipantStore{}, &fakeInsightStore{}, &fakeOutcomeRunner{}, &fakeModel{})

	_, err := engine.Execute(context.Background(), matches.match.ID)
	assert.ErrorContains(t, err, "active conversation")
}

func TestExecuteFailsMatchAtAttemptCap(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{count: DefaultMaxAttempts}
	engine := testEngine(matches, conversations, &fakeParticipantStore{}, &fakeInsightStore{}, &fakeOutcomeRunner{}, &fakeModel{})

	_, err := engine.Execute(context.Background(), matches.match.ID)
	assert.ErrorContains(t, err, "exhausted")
	assert.Equal(t, models.MatchStatusFailed, matches.match.Status)
	assert.Equal(t, "conversation attempts exhausted", matches.failedWith)
}

func TestExecuteTurnFailureLeavesMatchActive(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	outcomes := &fakeOutcomeRunner{}
	model := &fakeModel{failAt: 4}

	_, err := testEngine(matches, conversations, participants, &fakeInsightStore{}, outcomes, model).Execute(context.Background(), matches.match.ID)
	require.Error(t, err)

	// Three turns landed before the failure, the conversation is failed, and
	// the match stays active so a fresh attempt can run.
	assert.Len(t, conversations.turns, 3)
	assert.Equal(t, "model unavailable", conversations.failedWith)
	assert.Equal(t, models.MatchStatusActive, matches.match.Status)
	assert.Empty(t, matches.transitions)
	assert.Empty(t, outcomes.calls)
}

func TestExecuteSummaryFailureLeavesMatchActive(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	outcomes := &fakeOutcomeRunner{}
	model := &fakeModel{failAt: 7}

	_, err := testEngine(matches, conversations, participants, &fakeInsightStore{}, outcomes, model).Execute(context.Background(), matches.match.ID)
	require.Error(t, err)

	// All six turns landed but the close-out failed the attempt
	assert.Len(t, conversations.turns, 6)
	assert.Empty(t, conversations.completed)
	assert.Equal(t, "model unavailable", conversations.failedWith)
	assert.Equal(t, models.MatchStatusActive, matches.match.Status)
	assert.Empty(t, matches.transitions)
	assert.Empty(t, outcomes.calls)
}

func TestExecuteSummaryMissingFieldsFailsConversation(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	model := &fakeModel{summaryContent: `{"summary": "no outcome or score"}`}

	_, err := testEngine(matches, conversations, participants, &fakeInsightStore{}, &fakeOutcomeRunner{}, model).Execute(context.Background(), matches.match.ID)
	assert.ErrorContains(t, err, "missing actual outcome")
	assert.Empty(t, conversations.completed)
	assert.Equal(t, models.MatchStatusActive, matches.match.Status)
}

func TestExecuteSummaryClampsQualityScore(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	model := &fakeModel{summaryContent: `{"actual_outcome": "exploratory", "quality_score": 1.8, "summary": "ok"}`}

	_, err := testEngine(matches, conversations, participants, &fakeInsightStore{}, &fakeOutcomeRunner{}, model).Execute(context.Background(), matches.match.ID)
	require.NoError(t, err)
	require.NotNil(t, conversations.result)
	assert.Equal(t, 1.0, conversations.result.QualityScore)
}

func TestExecuteOutcomeFailureDoesNotFailConversation(t *testing.T) {
	a := testParticipant("alice", "founder")
	b := testParticipant("bob", "investor")

	matches := &fakeMatchStore{match: &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusActive,
	}}
	conversations := &fakeConversationStore{}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	outcomes := &fakeOutcomeRunner{err: fmt.Errorf("model unavailable")}

	conv, err := testEngine(matches, conversations, participants, &fakeInsightStore{}, outcomes, &fakeModel{}).Execute(context.Background(), matches.match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusCompleted, conv.Status)
	assert.Equal(t, models.MatchStatusCompleted, matches.match.Status)
}
