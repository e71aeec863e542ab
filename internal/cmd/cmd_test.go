package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsched/mailsched/internal/config"
	"github.com/mailsched/mailsched/internal/engine"
	"github.com/mailsched/mailsched/internal/rpc"
	"github.com/mailsched/mailsched/internal/server"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	config.SetConfigFile("")
	t.Cleanup(func() {
		config.SetConfigFile("")
		cfgFile = ""
		outputFormat = "table"
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDeliveryTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	when, err := deliveryTime("", 90*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T13:30:00Z", when)

	when, err = deliveryTime(" 2026-03-02 09:00 ", 0, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02 09:00", when)

	_, err = deliveryTime("2026-03-02T09:00:00Z", time.Hour, now)
	assert.ErrorContains(t, err, "not both")

	_, err = deliveryTime("", -time.Minute, now)
	assert.ErrorContains(t, err, "positive")

	_, err = deliveryTime("", 0, now)
	assert.ErrorContains(t, err, "required")
}

func TestValidateTimeReportsWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := engine.New(engine.Options{Clock: func() time.Time { return now }})

	ok := validateTime(eng, "2026-03-01T15:00:00Z")
	assert.True(t, ok.Valid)
	assert.Empty(t, ok.Error)
	assert.Equal(t, "Sun, Mar 1, 2026 at 3:00 PM UTC", ok.ScheduledFor)
	assert.Equal(t, "2026-03-01T12:01:00Z", ok.Earliest)
	assert.Equal(t, "2026-03-31T12:00:00Z", ok.Latest)

	tooFar := validateTime(eng, "2026-06-01T00:00:00Z")
	assert.False(t, tooFar.Valid)
	assert.Contains(t, tooFar.Error, "30 days")
	assert.Empty(t, tooFar.ScheduledFor)

	garbage := validateTime(eng, "next tuesday")
	assert.False(t, garbage.Valid)
}

func TestValidateCommandPrintsJSON(t *testing.T) {
	isolate(t)

	out, err := execute(t, "validate", "-o", "json", time.Now().Add(2*time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, err)

	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.NotEmpty(t, report.Latest)

	_, err = execute(t, "validate", "-o", "json", "2000-01-01T00:00:00Z")
	assert.ErrorIs(t, err, errInvalidTime)
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	SetVersionInfo("1.4.0", "abc", "2026-03-01")

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mailsched 1.4.0\n", out)

	out, err = execute(t, "version", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "\"go_version\"")
}

func TestConfigFlagIsHonored(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_schedule_days: 2\n"), 0o600))

	_, err := execute(t, "--config", path, "validate", "-o", "json", time.Now().Add(72*time.Hour).UTC().Format(time.RFC3339))
	assert.ErrorIs(t, err, errInvalidTime)
}

func TestServeOverrides(t *testing.T) {
	serverHost, serverPort = "", 0
	assert.Nil(t, serveOverrides())

	serverHost, serverPort = "0.0.0.0", 9000
	t.Cleanup(func() { serverHost, serverPort = "", 0 })
	assert.Equal(t, map[string]any{"server": map[string]any{"host": "0.0.0.0", "port": 9000}}, serveOverrides())
}

func TestHandlerTransportServesRPC(t *testing.T) {
	var gotUser string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(server.UserHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"total":3}}`))
	})

	client := rpc.New(inProcessURL, &http.Client{Transport: handlerTransport{handler: handler}})
	client.Headers.Set(server.UserHeader, "ada")

	resp, err := client.Call(context.Background(), "anything", nil)
	require.NoError(t, err)

	var out struct {
		Total int `json:"total"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, "ada", gotUser)
}

func TestSessionRequiresUser(t *testing.T) {
	isolate(t)
	_, err := execute(t, "count")
	assert.ErrorContains(t, err, "no user")
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(assert.AnError))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(gferrors.NewErrorEnvelope("CONFIG_INVALID", "bad")))
}

func TestSecretsAreMasked(t *testing.T) {
	assert.Equal(t, "(not set)", setOrNot(" "))
	assert.Equal(t, "(set)", setOrNot("tok"))
	assert.Equal(t, "(unset)", orUnset(""))
}
