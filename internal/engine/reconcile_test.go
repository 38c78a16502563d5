package engine

import (
	"testing"

	"github.com/amarcoder01/typemaster-race/api"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestReconcilerSortsDNFLast(t *testing.T) {
	r := NewReconciler()

	results := []api.ResultData{
		{ParticipantID: "c", Username: "carol", Position: nil, DNF: true},
		{ParticipantID: "b", Username: "bob", Position: intp(2)},
		{ParticipantID: "a", Username: "alice", Position: intp(1)},
		{ParticipantID: "d", Username: "dave", Position: nil, DNF: true},
	}

	board, first := r.Apply(results)
	assert.True(t, first)

	assert.Equal(t, "a", board[0].ParticipantID)
	assert.Equal(t, "b", board[1].ParticipantID)
	// DNF rows keep their relative order, after every finisher.
	assert.Equal(t, "c", board[2].ParticipantID)
	assert.Equal(t, "d", board[3].ParticipantID)
}

func TestReconcilerFiresOnce(t *testing.T) {
	r := NewReconciler()

	results := []api.ResultData{
		{ParticipantID: "a", Position: intp(1)},
	}

	_, first := r.Apply(results)
	assert.True(t, first)

	// Redelivery of identical data must not re-fire the side effect.
	board, first := r.Apply(results)
	assert.False(t, first)
	assert.True(t, r.Fired())
	assert.Len(t, board, 1)
	assert.Len(t, r.Leaderboard(), 1)
}
