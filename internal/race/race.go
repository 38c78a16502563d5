package race

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amarcoder01/typemaster-race/api"
	"github.com/amarcoder01/typemaster-race/internal/paragraph"
	"github.com/amarcoder01/typemaster-race/internal/rate"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Status int

const (
	StatusWaiting Status = iota
	StatusCountdown
	StatusRacing
	StatusFinished
)

var statusToString = map[Status]string{
	StatusWaiting:   api.RaceStatusWaiting,
	StatusCountdown: api.RaceStatusCountdown,
	StatusRacing:    api.RaceStatusRacing,
	StatusFinished:  api.RaceStatusFinished,
}

func (s Status) String() string {
	if str, ok := statusToString[s]; ok {
		return str
	}
	return "unknown"
}

// Race represents one shared typing competition identified by the
// websockets of its participants.
//
// Multiple goroutines may invoke methods on a Race simultaneously.
type Race struct {
	id         string
	roomCode   string
	maxPlayers int
	timed      bool
	timeLimit  int // seconds, meaningful only when timed

	paragraph string
	gen       *paragraph.Generator

	// participants represents all active websockets in a race.
	// A Participant != nil means the websocket has issued a join.
	participants map[*websocket.Conn]*Participant

	hostID    string
	locked    bool
	status    Status
	startedAt time.Time

	countdownCancel chan string
	timedTimer      *clock.Timer
	nextPosition    int
	results         []api.ResultData

	progressWindow time.Duration
	progressLimit  int
	extensionWords int

	jwtKey  []byte
	clock   clock.Clock
	created time.Time
	doneCh  chan struct{}
	mu      sync.Mutex
}

// Close shuts down a race and closes all registered websockets.
func (r *Race) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.doneCh:
		return errors.New("race already closed")
	default:
	}

	for c := range r.participants {
		if c != nil {
			c.Close(websocket.StatusNormalClosure, "race closes")
		}
	}

	close(r.doneCh)
	return nil
}

// Done returns if a race has been closed.
func (r *Race) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Race) ID() string {
	return r.id
}

func (r *Race) RoomCode() string {
	return r.roomCode
}

func (r *Race) MaxPlayers() int {
	return r.maxPlayers
}

// TimedInfo reports whether the race is timed and its limit in seconds.
func (r *Race) TimedInfo() (bool, int) {
	return r.timed, r.timeLimit
}

func (r *Race) CreationDate() time.Time {
	return r.created
}

// Now reads the race's injected clock.
func (r *Race) Now() time.Time {
	return r.clock.Now()
}

func (r *Race) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Race) Host() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

func (r *Race) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// SetLocked toggles the room lock. Joins are refused while locked.
func (r *Race) SetLocked(locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = locked
}

func (r *Race) Paragraph() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paragraph
}

// IsFull checks the total number of registered websockets in a race
// and returns true if it reaches the race's max players.
func (r *Race) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxPlayers >= 0 && r.numConns() >= r.maxPlayers
}

func (r *Race) NumConns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numConns()
}

func (r *Race) numConns() int {
	if _, ok := r.participants[nil]; ok {
		return len(r.participants) - 1
	}
	return len(r.participants)
}

// AddConn registers a new websocket in the race that is not associated
// to a participant yet.
func (r *Race) AddConn(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[conn] = nil
}

// Join registers a conn as a new participant and returns it.
func (r *Race) Join(conn *websocket.Conn, username string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Participant{
		id:       uuid.NewString(),
		username: username,
		joinedAt: r.clock.Now(),
		accuracy: 100,
		alive:    true,
		limiter:  rate.NewLimiterWithClock(r.progressWindow, r.progressLimit, r.clock),
	}
	r.participants[conn] = p

	// Grant the first participant to join host permission.
	if r.hostID == "" {
		r.hostID = p.id
	}

	return p
}

// GetParticipant finds a participant by id and returns his associated
// websocket. A third return value specifies if one was found.
func (r *Race) GetParticipant(id string) (*websocket.Conn, *Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getParticipant(id)
}

func (r *Race) getParticipant(id string) (*websocket.Conn, *Participant, bool) {
	for conn, p := range r.participants {
		if p == nil {
			continue
		}
		if p.id == id {
			return conn, p, true
		}
	}
	return nil, nil, false
}

func (r *Race) getParticipantByUsername(username string) (*Participant, bool) {
	for _, p := range r.participants {
		if p == nil {
			continue
		}
		if p.username == username {
			return p, true
		}
	}
	return nil, false
}

// UsernameTaken reports whether a username belongs to a joined participant.
func (r *Race) UsernameTaken(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.getParticipantByUsername(username)
	return ok
}

// GetParticipantByConn finds a participant by his associated websocket.
func (r *Race) GetParticipantByConn(conn *websocket.Conn) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[conn]
	return p, ok
}

// ReplaceParticipantConn replaces the conn of a disconnected
// participant and returns the replaced participant. The participant id
// stays stable across the reconnect.
func (r *Race) ReplaceParticipantConn(participantID string, newConn *websocket.Conn) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldConn, p, ok := r.getParticipant(participantID)
	if !ok {
		return nil, false
	}
	if oldConn != nil {
		oldConn.CloseNow()
	}
	delete(r.participants, oldConn)
	r.participants[newConn] = p

	p.Connect()

	return p, true
}

// DeleteParticipantByConn removes a websocket and its participant, if
// any, from the race.
func (r *Race) DeleteParticipantByConn(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteConn(conn)
}

// DeleteParticipant finds a participant by id, closes his websocket
// and removes him from the race. It returns false if the participant
// does not exist.
func (r *Race) DeleteParticipant(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, _, ok := r.getParticipant(id)
	if !ok {
		return false
	}
	r.deleteConn(conn)
	return true
}

func (r *Race) deleteConn(conn *websocket.Conn) {
	if conn != nil {
		conn.CloseNow()
	}
	delete(r.participants, conn)
}

// MigrateHost reassigns the host role to the earliest-joined remaining
// participant. It returns the new host, or false when the race has no
// participants left.
func (r *Race) MigrateHost() (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *Participant
	for _, p := range r.participants {
		if p == nil || p.id == r.hostID {
			continue
		}
		if next == nil || p.joinedAt.Before(next.joinedAt) {
			next = p
		}
	}
	if next == nil {
		return nil, false
	}

	r.hostID = next.id
	return next, true
}

// ParticipantList returns the joined participants ordered by join time.
func (r *Race) ParticipantList() []api.ParticipantData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantList()
}

func (r *Race) participantList() []api.ParticipantData {
	ordered := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p == nil {
			continue
		}
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].joinedAt.Before(ordered[j].joinedAt)
	})

	list := make([]api.ParticipantData, 0, len(ordered))
	for _, p := range ordered {
		list = append(list, p.Data())
	}
	return list
}

// ReadyStates returns the ready flag of every joined participant.
// The host is implicitly ready.
func (r *Race) ReadyStates() []api.ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]api.ReadyState, 0, len(r.participants))
	for _, p := range r.participants {
		if p == nil {
			continue
		}
		states = append(states, api.ReadyState{
			ParticipantID: p.id,
			IsReady:       p.Ready() || p.id == r.hostID,
		})
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ParticipantID < states[j].ParticipantID
	})
	return states
}

// NotReady lists usernames of joined non-host participants that have
// not toggled ready.
func (r *Race) NotReady() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var notReady []string
	for _, p := range r.participants {
		if p == nil || p.id == r.hostID {
			continue
		}
		if !p.Ready() {
			notReady = append(notReady, p.username)
		}
	}
	sort.Strings(notReady)
	return notReady
}

// Data returns the wire representation of the race.
func (r *Race) Data() api.RaceData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data()
}

func (r *Race) data() api.RaceData {
	data := api.RaceData{
		ID:         r.id,
		RoomCode:   r.roomCode,
		Status:     r.status.String(),
		Paragraph:  r.paragraph,
		MaxPlayers: r.maxPlayers,
		RaceType:   api.RaceTypeUntimed,
		Locked:     r.locked,
	}
	if r.timed {
		data.RaceType = api.RaceTypeTimed
		limit := r.timeLimit
		data.TimeLimitSeconds = &limit
	}
	if !r.startedAt.IsZero() {
		startedAt := r.startedAt
		data.StartedAt = &startedAt
	}
	return data
}

// Snapshot returns the REST resync representation of the race.
func (r *Race) Snapshot() api.RaceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return api.RaceSnapshot{
		Race:              r.data(),
		Participants:      r.participantList(),
		HostParticipantID: r.hostID,
		Results:           append([]api.ResultData(nil), r.results...),
	}
}

// Results returns the authoritative leaderboard, empty until finished.
func (r *Race) Results() []api.ResultData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.ResultData(nil), r.results...)
}

// Broadcast sends a JSON message to all participants and websockets
// active in the race.
func (r *Race) Broadcast(ctx context.Context, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcast(ctx, v)
}

func (r *Race) broadcast(ctx context.Context, v any) error {
	errs := errgroup.Group{}
	for conn := range r.participants {
		errs.Go(func() error {
			if conn == nil {
				return nil
			}
			return wsjson.Write(ctx, conn, v)
		})
	}
	return errs.Wait()
}

// SendTo writes a JSON message to a single participant's websocket.
func (r *Race) SendTo(ctx context.Context, participantID string, v any) error {
	conn, _, ok := r.GetParticipant(participantID)
	if !ok || conn == nil {
		return fmt.Errorf("participant %s has no websocket", participantID)
	}
	return wsjson.Write(ctx, conn, v)
}

// NewToken generates a rejoin token tied to a participant id. A client
// presenting it after a disconnect reclaims the same participant.
func (r *Race) NewToken(participantID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"raceId":        r.id,
		"participantId": participantID,
	})
	return token.SignedString(r.jwtKey)
}

// CheckToken validates a rejoin token and returns the participant id
// it restores. A check fails if the raceId claim does not match.
func (r *Race) CheckToken(token string) (string, error) {
	jwtToken, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.jwtKey, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := jwtToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid jwt claims")
	}
	raceID, ok := claims["raceId"].(string)
	if !ok || raceID != r.id {
		return "", errors.New("token does not match race id")
	}
	participantID, ok := claims["participantId"].(string)
	if !ok {
		return "", errors.New("token has no participantId claim")
	}
	return participantID, nil
}
