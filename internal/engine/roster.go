package engine

import "github.com/amarcoder01/typemaster-race/api"

// Roster tracks the participants of the session, their ready flags and
// live stats, and the host identity. Host changes are applied only
// from server broadcasts, never inferred locally.
type Roster struct {
	selfID       string
	hostID       string
	participants map[string]*api.ParticipantData
	order        []string
	locked       bool

	// Progress can outrun roster data for a participant the session
	// has not seen yet; such updates are parked here and applied once
	// the participant materializes.
	pendingProgress map[string]api.ProgressUpdateResponseData
}

func NewRoster() *Roster {
	return &Roster{
		participants:    make(map[string]*api.ParticipantData),
		pendingProgress: make(map[string]api.ProgressUpdateResponseData),
	}
}

// Reset installs a full authoritative roster, as delivered on join.
func (r *Roster) Reset(selfID, hostID string, participants []api.ParticipantData) {
	r.selfID = selfID
	r.hostID = hostID
	r.participants = make(map[string]*api.ParticipantData, len(participants))
	r.order = r.order[:0]
	for i := range participants {
		p := participants[i]
		r.participants[p.ID] = &p
		r.order = append(r.order, p.ID)
	}
	r.drainPending()
}

// Upsert adds or refreshes one participant, then replays any buffered
// progress addressed to it.
func (r *Roster) Upsert(p api.ParticipantData) {
	if _, known := r.participants[p.ID]; !known {
		r.order = append(r.order, p.ID)
	}
	cp := p
	r.participants[p.ID] = &cp
	r.drainPending()
}

func (r *Roster) Remove(id string) {
	if _, ok := r.participants[id]; !ok {
		return
	}
	delete(r.participants, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Roster) drainPending() {
	for id, u := range r.pendingProgress {
		if p, ok := r.participants[id]; ok {
			applyProgress(p, u)
			delete(r.pendingProgress, id)
		}
	}
}

// ApplyProgress folds a live progress update into the roster. Updates
// for unknown participants are buffered, not dropped. Per-participant
// progress is monotonic; a stale regression is ignored.
func (r *Roster) ApplyProgress(u api.ProgressUpdateResponseData) {
	p, ok := r.participants[u.ParticipantID]
	if !ok {
		r.pendingProgress[u.ParticipantID] = u
		return
	}
	if u.Progress < p.Progress {
		return
	}
	applyProgress(p, u)
}

func applyProgress(p *api.ParticipantData, u api.ProgressUpdateResponseData) {
	p.Progress = u.Progress
	p.WPM = u.WPM
	p.Accuracy = u.Accuracy
	p.Errors = u.Errors
}

func (r *Roster) ApplyReadyStates(states []api.ReadyState) {
	for _, s := range states {
		if p, ok := r.participants[s.ParticipantID]; ok {
			p.IsReady = s.IsReady
		}
	}
}

func (r *Roster) MarkFinished(id string, position int) {
	if p, ok := r.participants[id]; ok {
		p.IsFinished = true
		pos := position
		p.FinishPosition = &pos
	}
}

func (r *Roster) SetConnected(id string, connected bool) {
	if p, ok := r.participants[id]; ok {
		p.Connected = connected
	}
}

func (r *Roster) SetHost(id string) {
	r.hostID = id
	if p, ok := r.participants[id]; ok {
		// The host is implicitly ready.
		p.IsReady = true
	}
}

func (r *Roster) SelfID() string { return r.selfID }
func (r *Roster) HostID() string { return r.hostID }

// IsHost reports whether the local participant currently holds the
// host role. Host-only intents are blocked locally when it is false;
// the server still rejects them independently.
func (r *Roster) IsHost() bool {
	return r.selfID != "" && r.selfID == r.hostID
}

func (r *Roster) SetRoomLocked(locked bool) { r.locked = locked }
func (r *Roster) RoomLocked() bool          { return r.locked }

func (r *Roster) Self() (api.ParticipantData, bool) {
	return r.Get(r.selfID)
}

func (r *Roster) Get(id string) (api.ParticipantData, bool) {
	p, ok := r.participants[id]
	if !ok {
		return api.ParticipantData{}, false
	}
	return *p, true
}

// Participants returns the roster in join order.
func (r *Roster) Participants() []api.ParticipantData {
	out := make([]api.ParticipantData, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.participants[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}
