// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The global logger configures exactly once per process, so every check on
// its output shares this buffer.
var logBuf bytes.Buffer

func lastLine(t *testing.T) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(logBuf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestConfigureAttachesServiceFields(t *testing.T) {
	Configure(Config{Output: &logBuf, Service: "quoteflow", Version: "test"})

	base := Base()
	base.Info().Msg("hello")
	entry := lastLine(t)
	assert.Equal(t, "quoteflow", entry["service"])
	assert.Equal(t, "test", entry["version"])
	assert.Equal(t, "hello", entry["message"])
}

func TestWithComponent(t *testing.T) {
	Configure(Config{Output: &logBuf})

	worker := WithComponent("worker")
	worker.Info().Msg("tick")
	entry := lastLine(t)
	assert.Equal(t, "worker", entry[FieldComponent])
}

func TestDerive(t *testing.T) {
	Configure(Config{Output: &logBuf})

	derived := Derive(func(c *zerolog.Context) { *c = c.Str(FieldProvider, "remote") })
	derived.Info().Msg("attempt")
	entry := lastLine(t)
	assert.Equal(t, "remote", entry[FieldProvider])
}
