package analysis

import (
	"fmt"
	"strings"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

const analysisSystemPrompt = `You are a professional networking analyst. You evaluate whether two people would benefit from being introduced, based on their professional profiles.

Respond with a single JSON object:
{
  "score": <compatibility between 0.0 and 1.0>,
  "predicted_outcome": "<strong_match|exploratory|future_potential|no_match>",
  "summary": "<one paragraph on why this pairing does or does not work>",
  "insights": [
    {"type": "<opportunity|synergy|risk|next_step|hidden_asset|network_effect>", "title": "<short title>", "description": "<one or two sentences>"}
  ]
}

The score, predicted_outcome, and insights fields are required; use an empty insights array when there is nothing notable. Only use the listed insight types. Return JSON only, no other text.`

func buildAnalysisPrompt(a, b *models.Participant) string {
	var sb strings.Builder
	sb.WriteString("Evaluate the following two professionals for an introduction.\n\n")
	sb.WriteString("Person A:\n")
	writeProfile(&sb, a)
	sb.WriteString("\nPerson B:\n")
	writeProfile(&sb, b)
	return sb.String()
}

func writeProfile(sb *strings.Builder, p *models.Participant) {
	profile := p.AgentProfile.Data
	fmt.Fprintf(sb, "Name: %s\n", p.FullName)
	fmt.Fprintf(sb, "Role: %s\n", profile.Role)
	if profile.Company != "" {
		fmt.Fprintf(sb, "Company: %s\n", profile.Company)
	}
	if len(profile.Goals) > 0 {
		fmt.Fprintf(sb, "Goals: %s\n", strings.Join(profile.Goals, "; "))
	}
	if len(profile.Expertise) > 0 {
		fmt.Fprintf(sb, "Expertise: %s\n", strings.Join(profile.Expertise, "; "))
	}
	if profile.Summary != "" {
		fmt.Fprintf(sb, "Summary: %s\n", profile.Summary)
	}
}
