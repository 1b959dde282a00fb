package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/domain"
)

func TestParseDate(t *testing.T) {
	d, err := parseDate("2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDate("2025-03-14T09:30:00+07:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 2, 30, 0, 0, time.UTC), d)

	_, err = parseDate("14/03/2025")
	assert.Error(t, err)

	none, err := optionalDate("  ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestParseParticipants(t *testing.T) {
	got := parseParticipants([]string{"p-1=Budi Santoso", "p-2"})
	assert.Equal(t, []domain.Participant{
		{ID: "p-1", Name: "Budi Santoso"},
		{ID: "p-2", Name: "p-2"},
	}, got)
}
