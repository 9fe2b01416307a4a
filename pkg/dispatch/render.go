package dispatch

import (
	"fmt"
	"html"
	"strings"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

const (
	// maxDigestNotifications caps the entries a digest email shows
	maxDigestNotifications = 3

	// maxDigestInsights caps the insight bullets per entry
	maxDigestInsights = 2
)

func renderSubject(rep *models.MorningReport) string {
	matches := "matches"
	if rep.MatchCount == 1 {
		matches = "match"
	}
	return fmt.Sprintf("Your overnight report: %d %s on %s",
		rep.MatchCount, matches, rep.ReportDate.Format("Jan 2"))
}

// digestInsights trims an entry's insight list for the email body
func digestInsights(insights []string) []string {
	if len(insights) > maxDigestInsights {
		return insights[:maxDigestInsights]
	}
	return insights
}

func renderText(name string, rep *models.MorningReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Good morning %s,\n\n", name)
	fmt.Fprintf(&sb, "Your agent explored %d potential connections overnight.\n\n", rep.MatchCount)

	for i, n := range models.TopNotifications(rep.Notifications.Data, maxDigestNotifications) {
		fmt.Fprintf(&sb, "%d. %s (@%s) — compatibility %.0f%%\n", i+1, n.CounterpartName, n.CounterpartHandle, n.CompatibilityScore*100)
		fmt.Fprintf(&sb, "   %s\n", n.OutcomeSummary)
		if n.FollowUpRecommended {
			sb.WriteString("   Follow-up recommended.\n")
		}
		for _, insight := range digestInsights(n.TopInsights) {
			fmt.Fprintf(&sb, "   * %s\n", insight)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("— The Midnight Protocol\n")
	return sb.String()
}

func renderHTML(name string, rep *models.MorningReport) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	fmt.Fprintf(&sb, "<p>Good morning %s,</p>", html.EscapeString(name))
	fmt.Fprintf(&sb, "<p>Your agent explored %d potential connections overnight.</p>", rep.MatchCount)

	for _, n := range models.TopNotifications(rep.Notifications.Data, maxDigestNotifications) {
		sb.WriteString("<div>")
		fmt.Fprintf(&sb, "<h3>%s (@%s) &mdash; compatibility %.0f%%</h3>",
			html.EscapeString(n.CounterpartName), html.EscapeString(n.CounterpartHandle), n.CompatibilityScore*100)
		fmt.Fprintf(&sb, "<p>%s</p>", html.EscapeString(n.OutcomeSummary))
		if n.FollowUpRecommended {
			sb.WriteString("<p><strong>Follow-up recommended.</strong></p>")
		}
		if insights := digestInsights(n.TopInsights); len(insights) > 0 {
			sb.WriteString("<ul>")
			for _, insight := range insights {
				fmt.Fprintf(&sb, "<li>%s</li>", html.EscapeString(insight))
			}
			sb.WriteString("</ul>")
		}
		sb.WriteString("</div>")
	}

	sb.WriteString("<p>&mdash; The Midnight Protocol</p>")
	sb.WriteString("</body></html>")
	return sb.String()
}
