package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Transition_HappyPath(t *testing.T) {
	j := &Job{ExternalEventID: "rec-1", Status: StatusReceived}

	require.NoError(t, j.Transition(StatusParsed))
	require.NoError(t, j.Transition(StatusDownloading))
	require.NoError(t, j.Transition(StatusNormalizing))
	require.NoError(t, j.Transition(StatusEmbedding))
	require.NoError(t, j.Transition(StatusCompleted))
	assert.Equal(t, StatusCompleted, j.Status)
}

func TestJob_Transition_DuplicateShortCircuit(t *testing.T) {
	j := &Job{Status: StatusParsed}
	require.NoError(t, j.Transition(StatusDuplicate))
	assert.Equal(t, StatusDuplicate, j.Status)
}

func TestJob_Transition_RejectsSkippedStage(t *testing.T) {
	j := &Job{Status: StatusReceived}
	err := j.Transition(StatusEmbedding)
	require.Error(t, err)
}

func TestJob_Transition_TerminalIsSticky(t *testing.T) {
	j := &Job{Status: StatusCompleted}
	err := j.Transition(StatusFailed)
	require.Error(t, err)

	j2 := &Job{Status: StatusFailed}
	err = j2.Transition(StatusCompleted)
	require.Error(t, err)
}

func TestJob_Transition_AnyStageCanFail(t *testing.T) {
	for _, from := range []JobStatus{StatusDownloading, StatusNormalizing, StatusEmbedding} {
		j := &Job{Status: from}
		require.NoError(t, j.Transition(StatusFailed))
	}
}
