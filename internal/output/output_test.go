package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mailsched/mailsched/internal/core"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleList() *core.ScheduledList {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return &core.ScheduledList{
		Emails: []core.ScheduledEmail{
			{
				Name:           "01HX0000000000000000000000",
				ID:             "email-1",
				FromEmail:      "ada@example.com",
				Subject:        "quarterly numbers",
				To:             []string{"bob@example.com"},
				Cc:             []string{"carol@example.com"},
				RecipientCount: 2,
				ScheduledAt:    at,
				Status:         core.StatusScheduled,
			},
		},
		Total:   3,
		Limit:   1,
		Offset:  0,
		HasMore: true,
	}
}

func TestRenderListFormats(t *testing.T) {
	list := sampleList()

	rendered, err := Render(FormatTable, list)
	require.NoError(t, err)
	require.Contains(t, rendered, "email-1")
	require.Contains(t, rendered, "2026-03-02 09:30 UTC")
	require.Contains(t, rendered, "bob@example.com (+1)")
	require.Contains(t, rendered, "1-1 of 3, more available")

	rendered, err = Render(FormatJSON, list)
	require.NoError(t, err)
	require.Contains(t, rendered, "\"has_more\": true")
	require.Contains(t, rendered, "\"from_email\": \"ada@example.com\"")

	rendered, err = Render(FormatYAML, list)
	require.NoError(t, err)
	require.Contains(t, rendered, "has_more: true")
	require.Contains(t, rendered, "from_email: ada@example.com")

	rendered, err = Render(FormatMarkdown, list)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(rendered), "|"))
}

func TestRenderEmailDetails(t *testing.T) {
	secs := int64(90)
	email := sampleList().Emails[0]
	email.SecondsUntilSend = &secs
	email.ErrorMessage = "Cancelled by user"

	rendered, err := Render(FormatTable, &email)
	require.NoError(t, err)
	require.Contains(t, rendered, "carol@example.com")
	require.Contains(t, rendered, "1m30s")
	require.Contains(t, rendered, "Cancelled by user")
}

func TestRenderCount(t *testing.T) {
	rendered, err := Render(FormatTable, &core.ScheduledCount{Total: 4, Pending: 2, Sent: 1, Failed: 1})
	require.NoError(t, err)
	require.Contains(t, rendered, "Pending")
	require.Contains(t, rendered, "4")
}

func TestRenderValueSortsFields(t *testing.T) {
	rendered, err := Render(FormatTable, &core.CancelResult{Success: true, Message: "Scheduled email cancelled successfully", RelayCancelled: true})
	require.NoError(t, err)

	jmapIdx := strings.Index(rendered, "jmap_cancelled")
	msgIdx := strings.Index(rendered, "message")
	require.True(t, jmapIdx >= 0 && msgIdx > jmapIdx, "fields should be sorted:\n%s", rendered)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
