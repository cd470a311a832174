package workflow

import (
	"fmt"
	"strings"
)

// Output format tags carried on the done event.
const (
	FormatText        = "text"
	FormatSpreadsheet = "spreadsheet"
)

// processOutputNode finalises the run's answer for one output node. Output
// nodes never invoke the model gateway.
func (e *Executor) processOutputNode(node *Node, store *ContextStore, run *runState) Step {
	switch node.Type {
	case NodeSpreadsheet:
		content := store.GetString(KeyTransformedContent)
		if content == "" || !isCSVShaped(content) {
			content = coerceCSV(e.selectFinalAnswer(store, run))
		}
		run.answer = content
		run.outputFormat = FormatSpreadsheet
		if !isCSVShaped(content) {
			run.outputFormat = FormatText
		}
	default: // response
		run.answer = e.selectFinalAnswer(store, run)
		if run.outputFormat == "" {
			run.outputFormat = FormatText
		}
	}

	return Step{
		Agent:   string(node.Type),
		Model:   "none",
		Action:  "output",
		Content: run.answer,
	}
}

// selectFinalAnswer picks the final textual payload, preferring in order:
// final_answer, translated_content, transformed_content, the content of the
// most recently executed synthesis/sampler/transformer node, then the user
// message.
func (e *Executor) selectFinalAnswer(store *ContextStore, run *runState) string {
	for _, key := range []string{KeyFinalAnswer, KeyTranslatedContent, KeyTransformedContent} {
		if v := store.GetString(key); strings.TrimSpace(v) != "" {
			return v
		}
	}
	if v := run.lastGeneratorContent; strings.TrimSpace(v) != "" {
		return v
	}
	return store.GetString(KeyUserMessage)
}

// isCSVShaped reports whether content looks like CSV: at least one newline,
// commas, and a consistent column count across non-empty lines.
func isCSVShaped(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" || !strings.Contains(content, "\n") || !strings.Contains(content, ",") {
		return false
	}

	columns := -1
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n := countCSVColumns(line)
		if columns == -1 {
			columns = n
			continue
		}
		if n != columns {
			return false
		}
	}
	return columns > 1
}

// countCSVColumns counts top-level commas outside quotes.
func countCSVColumns(line string) int {
	count := 1
	inQuotes := false
	for _, r := range line {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				count++
			}
		}
	}
	return count
}

// coerceCSV turns arbitrary text into a minimal two-column CSV when it is not
// already CSV-shaped.
func coerceCSV(content string) string {
	if isCSVShaped(content) {
		return content
	}

	var b strings.Builder
	b.WriteString("Line,Content\n")
	row := 1
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "%d,%s\n", row, csvEscape(line))
		row++
	}
	return strings.TrimRight(b.String(), "\n")
}

func csvEscape(line string) string {
	escaped := strings.ReplaceAll(line, `"`, `""`)
	return `"` + escaped + `"`
}
