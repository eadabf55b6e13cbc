package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
	assert.Equal(t, "***@***", RedactEmail(""))
}

func TestRedactPIIValue(t *testing.T) {
	assert.Equal(t, "al***@example.com", redactPIIValue("recipient_email", "alice@example.com"))
	// Embedded addresses in generic fields are also masked.
	assert.Equal(t, "bounce for bo***@example.com", redactPIIValue("detail", "bounce for bob@example.com"))
	assert.Equal(t, "plain value", redactPIIValue("detail", "plain value"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("garbage"))
}

func TestLogEmitsRedactedJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(INFO)

	Info("bounce received", "recipient", "carol@example.com", "campaign_id", "c1")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "bounce received", entry["msg"])
	assert.Equal(t, "ca***@example.com", entry["recipient"])
	assert.Equal(t, "c1", entry["campaign_id"])
}

func TestLogLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(WARN)
	defer SetLevel(INFO)

	Debug("noise")
	Info("still noise")
	assert.Zero(t, buf.Len())

	Warn("signal")
	assert.Contains(t, buf.String(), "signal")
}
