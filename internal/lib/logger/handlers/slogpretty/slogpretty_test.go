package slogpretty

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug}}

	return slog.New(opts.NewPrettyHandler(&buf)), &buf
}

// fieldsOf decodes the JSON object that follows the message.
func fieldsOf(t *testing.T, line string) map[string]any {
	t.Helper()

	i := strings.Index(line, "{")
	require.GreaterOrEqual(t, i, 0, "no attributes in %q", line)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(line[i:]), &fields))
	return fields
}

func TestPrettyHandler_LevelAndMessage(t *testing.T) {
	log, buf := newLogger(t)

	log.Warn("state rejected")

	out := buf.String()
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "state rejected")
	assert.NotContains(t, out, "{")
}

func TestPrettyHandler_Attrs(t *testing.T) {
	log, buf := newLogger(t)

	log.With(slog.String("op", "connection.Connect")).Info("organization connected", slog.Int64("hub_id", 42))

	fields := fieldsOf(t, buf.String())
	assert.Equal(t, "connection.Connect", fields["op"])
	assert.EqualValues(t, 42, fields["hub_id"])
}

func TestPrettyHandler_Groups(t *testing.T) {
	log, buf := newLogger(t)

	log.With(slog.String("op", "http.hubspot.Test")).
		WithGroup("upstream").
		With(slog.Int("status", 401)).
		Error("hubspot test call failed", slog.String("body", "expired"), slog.Group("retry", slog.Bool("done", true)))

	fields := fieldsOf(t, buf.String())
	assert.Equal(t, "http.hubspot.Test", fields["op"])

	upstream, ok := fields["upstream"].(map[string]any)
	require.True(t, ok, "fields: %v", fields)
	assert.EqualValues(t, 401, upstream["status"])
	assert.Equal(t, "expired", upstream["body"])
	assert.Equal(t, map[string]any{"done": true}, upstream["retry"])
}
