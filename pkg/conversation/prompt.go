package conversation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

// emptyHistoryPlaceholder stands in for the transcript on the opening turn
const emptyHistoryPlaceholder = "(no conversation history yet)"

const summarySystemPrompt = `You are reviewing a completed conversation between two professional networking agents.

Respond with a single JSON object:
{
  "actual_outcome": "<one short phrase naming what the conversation arrived at>",
  "quality_score": <conversation quality between 0.0 and 1.0>,
  "summary": "<one paragraph summarizing the exchange>",
  "key_moments": ["<notable moment>", ...]
}

The actual_outcome and quality_score fields are required. Return JSON only, no other text.`

func buildAgentSystemPrompt(speaker *models.Participant) string {
	profile := speaker.AgentProfile.Data

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the professional networking agent representing %s.\n", speaker.FullName)
	fmt.Fprintf(&sb, "Role: %s\n", profile.Role)
	if profile.Company != "" {
		fmt.Fprintf(&sb, "Company: %s\n", profile.Company)
	}
	if len(profile.Goals) > 0 {
		fmt.Fprintf(&sb, "Goals: %s\n", strings.Join(profile.Goals, "; "))
	}
	if len(profile.Expertise) > 0 {
		fmt.Fprintf(&sb, "Expertise: %s\n", strings.Join(profile.Expertise, "; "))
	}
	if profile.Summary != "" {
		fmt.Fprintf(&sb, "Background: %s\n", profile.Summary)
	}
	sb.WriteString("\nYou are in a short exploratory conversation with another agent. Speak in first person on your principal's behalf, be specific about what they offer and need, and keep each message to a few sentences.")
	return sb.String()
}

func buildTurnPrompt(counterpart *models.Participant, history []models.ConversationTurn, speakerID uuid.UUID, guidance []models.Insight) string {
	profile := counterpart.AgentProfile.Data

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are speaking with the agent for %s (%s", counterpart.FullName, profile.Role)
	if profile.Company != "" {
		fmt.Fprintf(&sb, " at %s", profile.Company)
	}
	sb.WriteString(").\n")

	if len(guidance) > 0 {
		sb.WriteString("\nAn analyst flagged these angles for this pairing; steer the conversation toward them:\n")
		for _, in := range guidance {
			fmt.Fprintf(&sb, "- %s: %s\n", in.Title, in.Description)
		}
	}

	sb.WriteString("\nConversation so far:\n")
	if len(history) == 0 {
		sb.WriteString(emptyHistoryPlaceholder)
		sb.WriteString("\n")
	} else {
		for _, turn := range history {
			speaker := "Them"
			if turn.SpeakerParticipantID == speakerID {
				speaker = "You"
			}
			fmt.Fprintf(&sb, "[%d] %s: %s\n", turn.TurnNumber, speaker, turn.Message)
		}
	}

	sb.WriteString("\nWrite your next message.")
	return sb.String()
}

func buildSummaryPrompt(participantA, participantB *models.Participant, history []models.ConversationTurn) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The conversation was between the agents for %s and %s.\n\nTranscript:\n",
		participantA.FullName, participantB.FullName)

	for _, turn := range history {
		name := participantA.FullName
		if turn.SpeakerParticipantID == participantB.ID {
			name = participantB.FullName
		}
		fmt.Fprintf(&sb, "[%d] %s: %s\n", turn.TurnNumber, name, turn.Message)
	}

	sb.WriteString("\nSummarize the conversation.")
	return sb.String()
}
