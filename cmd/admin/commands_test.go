package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kovancilartr/learnapp-api/internal/models"
)

func TestParsePurgeStatuses(t *testing.T) {
	statuses, err := parsePurgeStatuses([]string{"rejected", " APPROVED "})
	require.NoError(t, err)
	assert.Equal(t, []models.EnrollmentRequestStatus{models.EnrollmentRequestRejected, models.EnrollmentRequestApproved}, statuses)

	_, err = parsePurgeStatuses([]string{"PENDING"})
	assert.Error(t, err)

	_, err = parsePurgeStatuses(nil)
	assert.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{{"migrate", "up"}, {"migrate", "down"}, {"migrate", "status"}, {"requests", "purge"}} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	purge, _, err := root.Find([]string{"requests", "purge"})
	require.NoError(t, err)
	assert.Equal(t, "2160h0m0s", purge.Flags().Lookup("older-than").DefValue)
	assert.Equal(t, "[REJECTED]", purge.Flags().Lookup("status").DefValue)
}
