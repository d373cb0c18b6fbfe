// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "r1")
	ctx = ContextWithSessionID(ctx, "s1")
	ctx = ContextWithJobID(ctx, "j1")

	assert.Equal(t, "r1", RequestIDFromContext(ctx))
	assert.Equal(t, "s1", SessionIDFromContext(ctx))
	assert.Equal(t, "j1", JobIDFromContext(ctx))
}

func TestEmptyContextYieldsEmptyIDs(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, SessionIDFromContext(context.Background()))
	assert.Empty(t, JobIDFromContext(context.Background()))
}

func TestWithContextEnrichesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithSessionID(context.Background(), "s1")
	ctx = ContextWithJobID(ctx, "j1")

	enriched := WithContext(ctx, logger)
	enriched.Info().Msg("processing")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "s1", entry[FieldSessionID])
	assert.Equal(t, "j1", entry[FieldJobID])
	_, hasRequest := entry[FieldRequestID]
	assert.False(t, hasRequest, "absent IDs add no fields")
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	bare := WithContext(context.Background(), logger)
	bare.Info().Msg("bare")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry[FieldSessionID]
	assert.False(t, ok)
}
