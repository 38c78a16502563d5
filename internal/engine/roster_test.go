package engine

import (
	"testing"

	"github.com/amarcoder01/typemaster-race/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterHostAuthorization(t *testing.T) {
	r := NewRoster()
	r.Reset("me", "other", []api.ParticipantData{
		{ID: "other", Username: "host"},
		{ID: "me", Username: "self"},
	})

	assert.False(t, r.IsHost())

	// Host migration comes only from the broadcast.
	r.SetHost("me")
	assert.True(t, r.IsHost())
	assert.Equal(t, "me", r.HostID())

	self, ok := r.Self()
	require.True(t, ok)
	assert.True(t, self.IsReady) // the host is implicitly ready
}

func TestRosterBuffersUnknownProgress(t *testing.T) {
	r := NewRoster()
	r.Reset("me", "me", []api.ParticipantData{{ID: "me", Username: "self"}})

	// Progress can outrun the roster for a late-observed participant.
	r.ApplyProgress(api.ProgressUpdateResponseData{
		ParticipantID: "ghost",
		Progress:      42,
		WPM:           60,
	})
	_, ok := r.Get("ghost")
	assert.False(t, ok)

	r.Upsert(api.ParticipantData{ID: "ghost", Username: "late"})

	p, ok := r.Get("ghost")
	require.True(t, ok)
	assert.Equal(t, 42, p.Progress)
	assert.Equal(t, 60, p.WPM)
}

func TestRosterProgressMonotonic(t *testing.T) {
	r := NewRoster()
	r.Reset("me", "me", []api.ParticipantData{{ID: "p", Username: "p"}})

	r.ApplyProgress(api.ProgressUpdateResponseData{ParticipantID: "p", Progress: 10})
	r.ApplyProgress(api.ProgressUpdateResponseData{ParticipantID: "p", Progress: 7}) // stale

	p, _ := r.Get("p")
	assert.Equal(t, 10, p.Progress)
}

func TestRosterJoinOrder(t *testing.T) {
	r := NewRoster()
	r.Reset("a", "a", []api.ParticipantData{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	})
	r.Remove("b")
	r.Upsert(api.ParticipantData{ID: "d"})

	ids := make([]string, 0, 3)
	for _, p := range r.Participants() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)
}

func TestRosterReadyStates(t *testing.T) {
	r := NewRoster()
	r.Reset("a", "a", []api.ParticipantData{{ID: "a"}, {ID: "b"}})

	r.ApplyReadyStates([]api.ReadyState{
		{ParticipantID: "a", IsReady: true},
		{ParticipantID: "b", IsReady: true},
		{ParticipantID: "missing", IsReady: true}, // ignored
	})

	a, _ := r.Get("a")
	b, _ := r.Get("b")
	assert.True(t, a.IsReady)
	assert.True(t, b.IsReady)
}
