package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Heading introduces every report shown to the user.
const Heading = "### 📘 Research Report"

// TXTFilename is the download name of the plain-text export.
const TXTFilename = "research_report.txt"

// AssistantMessage is the chat-history entry recorded for a finished
// report.
func AssistantMessage(report string) string {
	return Heading + "\n" + report
}

// Markdown assembles the report and its sources into one document.
func Markdown(report string, sources []string) string {
	var b strings.Builder
	b.WriteString(AssistantMessage(report))
	if len(sources) > 0 {
		fmt.Fprintf(&b, "\n\n#### 🔗 Sources (%d)\n", len(sources))
		for _, link := range sources {
			fmt.Fprintf(&b, "- [%s](%s)\n", link, link)
		}
	}
	return b.String()
}

// Render formats markdown for a terminal of the given width.
func Render(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}

	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}
