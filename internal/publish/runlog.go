package publish

import (
	"fmt"
	"strings"
	"time"

	"github.com/John-Robertt/spider-clash/internal/model"
)

// FormatRunLog renders the human-readable run log written next to the
// artifacts.
func FormatRunLog(stats model.RunLog, sources []string) string {
	var b strings.Builder
	b.WriteString("=== Spider-Clash Run Log ===\n")
	fmt.Fprintf(&b, "Run: %s\n", stats.RunID)
	fmt.Fprintf(&b, "Date: %s\n", stats.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %dms\n", stats.Duration.Milliseconds())
	fmt.Fprintf(&b, "State: %s\n", stats.State)
	if stats.Fatal != "" {
		fmt.Fprintf(&b, "Fatal: %s\n", stats.Fatal)
	}

	b.WriteString("\n[Statistics]\n")
	fmt.Fprintf(&b, "Total Raw Links Found: %d\n", stats.TotalLinks)
	fmt.Fprintf(&b, "Valid Format Nodes: %d\n", stats.ValidFormatNodes)
	fmt.Fprintf(&b, "Invalid Format Nodes: %d\n", stats.InvalidFormatNodes)
	fmt.Fprintf(&b, "Unique Nodes: %d\n", stats.UniqueNodes)
	fmt.Fprintf(&b, "Probed Nodes: %d\n", stats.ProbedNodes)
	fmt.Fprintf(&b, "Validated Available Nodes: %d\n", stats.AvailableNodes)

	b.WriteString("\n[Errors]\n")
	if len(stats.Errors) == 0 {
		b.WriteString("None\n")
	} else {
		for _, e := range stats.Errors {
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}

	if len(sources) > 0 {
		b.WriteString("\n[Sources]\n")
		for _, s := range sources {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// runLogName is the file name for a run finishing at t.
func runLogName(t time.Time) string {
	return "run_" + t.UTC().Format("2006-01-02T15-04-05.000Z") + ".log"
}
