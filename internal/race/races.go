package race

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/amarcoder01/typemaster-race/internal/paragraph"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
)

type races struct {
	races map[string]*Race // keyed by room code
	byID  map[string]*Race
	clock clock.Clock
	mu    sync.RWMutex
}

// Registry stores and retrieves active races.
type Registry interface {
	Register(opts Options) (*Race, error)
	Get(roomCode string) (*Race, bool)
	GetByID(id string) (*Race, bool)
	Delete(roomCode string)
}

// NewRegistry returns an in-memory storage of races.
func NewRegistry() Registry {
	return NewRegistryWithClock(clock.New())
}

func NewRegistryWithClock(clk clock.Clock) Registry {
	return &races{
		races: map[string]*Race{},
		byID:  map[string]*Race{},
		clock: clk,
	}
}

var errNoRaceSlotAvailable = errors.New("no race slot available")

type Options struct {
	// MaxPlayers defines the maximum amount of participants allowed to
	// join a race. Default is 10. Negative value means no limit.
	MaxPlayers int

	// Timed makes the race end on a fixed deadline instead of on the
	// last finisher. TimeLimitSeconds defaults to 60 for timed races.
	Timed            bool
	TimeLimitSeconds int

	// ParagraphWords sizes the initial target text. Default is 60.
	ParagraphWords int

	// ExtensionWords sizes each paragraph extension. Default is 30.
	ExtensionWords int

	// ProgressRateLimit bounds progress intents per participant within
	// ProgressRateWindow. Defaults are 30 per second.
	ProgressRateLimit  int
	ProgressRateWindow time.Duration

	// JWTSalt is an optional salt used while generating the race's
	// rejoin token key.
	JWTSalt []byte

	// RegisterTimeout sets a duration before an idle waiting room
	// expires. Default is 15 minutes. Negative disables it.
	RegisterTimeout time.Duration

	// Generator overrides the paragraph source, mainly for tests.
	Generator *paragraph.Generator
}

// Register creates a new race under a fresh room code.
func (rs *races) Register(opts Options) (*Race, error) {
	if opts.MaxPlayers == 0 {
		opts.MaxPlayers = 10
	}
	if opts.Timed && opts.TimeLimitSeconds == 0 {
		opts.TimeLimitSeconds = 60
	}
	if opts.ParagraphWords == 0 {
		opts.ParagraphWords = 60
	}
	if opts.ExtensionWords == 0 {
		opts.ExtensionWords = 30
	}
	if opts.ProgressRateLimit == 0 {
		opts.ProgressRateLimit = 30
	}
	if opts.ProgressRateWindow == 0 {
		opts.ProgressRateWindow = time.Second
	}
	if opts.RegisterTimeout == 0 {
		opts.RegisterTimeout = 15 * time.Minute
	}
	if opts.Generator == nil {
		opts.Generator = paragraph.NewGenerator()
	}

	id := uuid.NewString()
	created := rs.clock.Now()

	r := &Race{
		id:             id,
		roomCode:       newRoomCode(),
		maxPlayers:     opts.MaxPlayers,
		timed:          opts.Timed,
		timeLimit:      opts.TimeLimitSeconds,
		paragraph:      opts.Generator.Generate(opts.ParagraphWords),
		gen:            opts.Generator,
		participants:   map[*websocket.Conn]*Participant{},
		status:         StatusWaiting,
		progressWindow: opts.ProgressRateWindow,
		progressLimit:  opts.ProgressRateLimit,
		extensionWords: opts.ExtensionWords,
		jwtKey:         newRaceTokenKey(opts.JWTSalt, id, created),
		clock:          rs.clock,
		created:        created,
		doneCh:         make(chan struct{}),
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	retries := 50
	for retries > 0 {
		if _, exist := rs.races[r.roomCode]; !exist {
			break
		}
		r.roomCode = newRoomCode()
		retries--
	}
	if retries <= 0 {
		return nil, errNoRaceSlotAvailable
	}

	rs.races[r.roomCode] = r
	rs.byID[r.id] = r

	if opts.RegisterTimeout > 0 {
		go rs.raceTimeout(r, opts.RegisterTimeout)
	}

	return r, nil
}

func (rs *races) raceTimeout(r *Race, timeout time.Duration) {
	timer := rs.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-r.Done():
		return
	case <-timer.C:
		switch r.Status() {
		case StatusWaiting:
			rs.Delete(r.RoomCode())
		}
	}
}

func newRoomCode() string {
	return strings.ToUpper(shortuuid.New()[:6])
}

// newRaceTokenKey creates a dedicated jwt key associated to a race.
func newRaceTokenKey(secret []byte, id string, created time.Time) []byte {
	key := fmt.Sprintf("%s%s%d", secret, id, created.Unix())
	return []byte(fmt.Sprintf("%x", key))
}

// Get retrieves a race by room code.
func (rs *races) Get(roomCode string) (*Race, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.races[strings.ToUpper(roomCode)]
	return r, ok
}

// GetByID retrieves a race by unique id.
func (rs *races) GetByID(id string) (*Race, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.byID[id]
	return r, ok
}

// Delete closes all race conns before removing it.
func (rs *races) Delete(roomCode string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r := rs.races[roomCode]; r != nil {
		_ = r.Close()
		delete(rs.byID, r.id)
	}

	delete(rs.races, roomCode)
}
