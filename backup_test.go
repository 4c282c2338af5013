package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModifiedSince(t *testing.T) {
	empty, err := parseModifiedSince("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	date, err := parseModifiedSince("2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), date)

	stamp, err := parseModifiedSince("2026-03-15T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, stamp.Hour())

	_, err = parseModifiedSince("last tuesday")
	assert.Error(t, err)
}
