package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/arbiterhq/arbiter/internal/core"
)

// MarkdownExporter exports sessions to Markdown format.
type MarkdownExporter struct{}

// Export writes the session as Markdown.
func (e *MarkdownExporter) Export(session *core.Session, w io.Writer) error {
	var sb strings.Builder

	// Title
	sb.WriteString(fmt.Sprintf("# Deliberation: %s\n\n", session.Proposal))

	// Metadata
	sb.WriteString("## Session Information\n\n")
	sb.WriteString(fmt.Sprintf("- **ID:** `%s`\n", session.ID))
	sb.WriteString(fmt.Sprintf("- **Status:** %s\n", session.Status))
	sb.WriteString(fmt.Sprintf("- **Perspectives:** %s\n", joinRoles(session.Roles)))
	sb.WriteString(fmt.Sprintf("- **Created:** %s\n", session.CreatedAt.Format("January 2, 2006 at 3:04 PM")))
	if session.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("- **Completed:** %s\n", session.CompletedAt.Format("January 2, 2006 at 3:04 PM")))
		sb.WriteString(fmt.Sprintf("- **Duration:** %s\n", formatDuration(session.CreatedAt, *session.CompletedAt)))
	}
	sb.WriteString("\n")

	// Decision
	if session.Decision != nil {
		d := session.Decision
		sb.WriteString("## Decision\n\n")
		sb.WriteString(fmt.Sprintf("- **Action:** %s\n", d.Action))
		sb.WriteString(fmt.Sprintf("- **Confidence:** %.2f\n", d.Confidence))
		sb.WriteString(fmt.Sprintf("- **Sizing:** %.4f\n", d.Sizing))
		sb.WriteString(fmt.Sprintf("- **Expected value:** %.2f\n", d.ExpectedValue))
		sb.WriteString("\n")
		sb.WriteString(d.Rationale)
		sb.WriteString("\n\n")
	}

	// Consensus
	if session.Assessment != nil {
		a := session.Assessment
		sb.WriteString("## Consensus\n\n")
		sb.WriteString(fmt.Sprintf("- **Type:** %s\n", a.Type))
		sb.WriteString(fmt.Sprintf("- **Agreement score:** %.2f\n", a.AgreementScore))
		if len(a.DissentPoints) > 0 {
			sb.WriteString("- **Dissent:**\n")
			for _, p := range a.DissentPoints {
				sb.WriteString(fmt.Sprintf("  - %s\n", p))
			}
		}
		sb.WriteString("\n")
	}

	// Pre-debate analysis
	if len(session.Analysis) > 0 {
		sb.WriteString("## Analysis\n\n")
		for _, r := range session.Analysis {
			sb.WriteString(fmt.Sprintf("### %s\n\n", r.Role))
			if r.Succeeded {
				sb.WriteString(r.Content)
			} else {
				sb.WriteString(fmt.Sprintf("*%s*", failureNote(r)))
			}
			sb.WriteString("\n\n")
		}
	}

	// Debate
	sb.WriteString("## Debate\n\n")
	if len(session.Transcript.Rounds) == 0 {
		sb.WriteString("*No rounds recorded.*\n\n")
	} else {
		for _, round := range session.Transcript.Rounds {
			sb.WriteString(fmt.Sprintf("### Round %d\n\n", round.Index+1))
			for _, r := range round.Results {
				sb.WriteString(fmt.Sprintf("#### %s\n\n", r.Role))
				if r.Succeeded {
					sb.WriteString(r.Content)
				} else {
					sb.WriteString(fmt.Sprintf("*%s*", failureNote(r)))
				}
				sb.WriteString("\n\n---\n\n")
			}
		}
	}

	// Footer
	sb.WriteString("---\n\n")
	sb.WriteString("*Exported from arbiter*\n")

	_, err := w.Write([]byte(sb.String()))
	return err
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return "md"
}

func joinRoles(roles []core.Role) string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return strings.Join(out, ", ")
}
