// Package output renders scheduler results for the CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/mailsched/mailsched/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders scheduler results.
type Formatter interface {
	FormatList(list *core.ScheduledList) (string, error)
	FormatEmail(email *core.ScheduledEmail) (string, error)
	FormatCount(count *core.ScheduledCount) (string, error)
	// FormatValue renders any other result as field/value pairs.
	FormatValue(v any) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

// Render dispatches v to the matching Formatter method.
func Render(format Format, v any) (string, error) {
	f := NewFormatter(format)
	switch typed := v.(type) {
	case *core.ScheduledList:
		return f.FormatList(typed)
	case *core.ScheduledEmail:
		return f.FormatEmail(typed)
	case *core.ScheduledCount:
		return f.FormatCount(typed)
	default:
		return f.FormatValue(v)
	}
}
