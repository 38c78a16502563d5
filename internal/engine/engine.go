package engine

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/amarcoder01/typemaster-race/api"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

var (
	// ErrNotHost blocks host-only intents locally before they reach
	// the wire. The server rejects them independently.
	ErrNotHost = errors.New("local participant is not the host")

	// ErrClipboardBlocked rejects paste and cut input outright to keep
	// the typing measurement honest.
	ErrClipboardBlocked = errors.New("clipboard input is not accepted")

	ErrNotRacing = errors.New("race is not running")
)

// Hooks are the observation points a presentation layer attaches to.
// Every hook is optional and is invoked from the session goroutine, so
// implementations must not call back into the Session synchronously.
type Hooks struct {
	OnTransport          func(TransportUpdate)
	OnState              func(State)
	OnCountdown          func(int)
	OnCountdownCancelled func(reason string)
	OnRoster             func([]api.ParticipantData)
	OnProgress           func(api.ProgressUpdateResponseData)
	OnMetrics            func(progress, wpm, accuracy, errs int)
	OnChat               func(api.ChatResponseData)
	OnError              func(api.WebsocketErrorData)
	OnFinished           func([]api.ResultData)
	OnKicked             func(message string)
	OnHostChanged        func(newHostID string)
	OnRematch            func(api.RematchAvailableResponseData)
}

type Config struct {
	// RaceID of the session being joined; events carrying a different
	// race id are ignored.
	RaceID   string
	Username string

	URL                  string
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffCap           time.Duration

	Clock  clock.Clock
	Logger zerolog.Logger
	Hooks  Hooks
}

// SessionSnapshot is a point-in-time copy of the session state,
// obtained through the event loop so it is always consistent.
type SessionSnapshot struct {
	State        State
	Race         api.RaceData
	SelfID       string
	HostID       string
	RejoinToken  string
	Participants []api.ParticipantData
	Verdicts     []Verdict
	Progress     int
	WPM          int
	Accuracy     int
	Errors       int
	Leaderboard  []api.ResultData
}

// Session is the client-side race engine: one goroutine owns all
// state, fed by inbound protocol events, local input, and timer ticks
// through a single inbox. Every race-state transition is committed
// only on the authoritative server broadcast.
type Session struct {
	cfg       Config
	clk       clock.Clock
	log       zerolog.Logger
	transport *Transport

	machine    *Machine
	tracker    *Tracker
	roster     *Roster
	reconciler *Reconciler

	race       api.RaceData
	timedTimer *clock.Timer

	tokenMu     sync.Mutex
	rejoinToken string

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	s := &Session{
		cfg:        cfg,
		clk:        cfg.Clock,
		log:        cfg.Logger.With().Str("race_id", cfg.RaceID).Logger(),
		machine:    NewMachine(),
		tracker:    NewTracker(cfg.Clock),
		roster:     NewRoster(),
		reconciler: NewReconciler(),
		cmds:       make(chan func(), 32),
		done:       make(chan struct{}),
	}

	s.transport = NewTransport(TransportConfig{
		URL:                  cfg.URL,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BackoffBase:          cfg.BackoffBase,
		BackoffCap:           cfg.BackoffCap,
		Handshake:            s.joinMessage,
		Clock:                cfg.Clock,
		Logger:               s.log,
	})

	return s
}

// joinMessage builds the join intent written first on every successful
// (re)connect. After the first join it carries the rejoin token so the
// server restores the same participant identity.
func (s *Session) joinMessage() any {
	s.tokenMu.Lock()
	token := s.rejoinToken
	s.tokenMu.Unlock()

	return api.Request[api.JoinRequestData]{
		Type: api.RequestTypeJoin,
		Data: api.JoinRequestData{
			RaceID:      s.cfg.RaceID,
			Username:    s.cfg.Username,
			RejoinToken: token,
		},
	}
}

// Run connects and processes events until the session closes. Callers
// run it on its own goroutine.
func (s *Session) Run() {
	s.transport.Connect()

	metrics := s.clk.Ticker(time.Second)
	defer metrics.Stop()

	for {
		select {
		case msg, ok := <-s.transport.Messages():
			if !ok {
				s.Close()
				return
			}
			s.dispatch(msg)
		case up := <-s.transport.States():
			s.hook(func(h Hooks) { h.OnTransport(up) }, s.cfg.Hooks.OnTransport != nil)
		case <-metrics.C:
			if s.machine.State() == StateRacing && s.cfg.Hooks.OnMetrics != nil {
				s.cfg.Hooks.OnMetrics(s.tracker.Progress(), s.tracker.WPM(),
					s.tracker.Accuracy(), s.tracker.Errors())
			}
		case cmd := <-s.cmds:
			cmd()
		case <-s.done:
			return
		}
	}
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.timedTimer != nil {
			s.timedTimer.Stop()
		}
		s.transport.Close()
		close(s.done)
	})
}

func (s *Session) hook(f func(Hooks), set bool) {
	if set {
		f(s.cfg.Hooks)
	}
}

// do runs f on the session goroutine.
func (s *Session) do(f func()) {
	select {
	case s.cmds <- f:
	case <-s.done:
	}
}

// call runs f on the session goroutine and waits for its error.
func (s *Session) call(f func() error) error {
	errCh := make(chan error, 1)
	s.do(func() { errCh <- f() })
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return nil
	}
}

func (s *Session) send(t api.RequestType, data any) {
	if err := s.transport.Send(api.Request[any]{Type: t, Data: data}); err != nil {
		s.log.Error().Err(err).Str("type", string(t)).Msg("send")
	}
}

// Snapshot round-trips through the event loop for a consistent copy.
func (s *Session) Snapshot() SessionSnapshot {
	ch := make(chan SessionSnapshot, 1)
	s.do(func() {
		s.tokenMu.Lock()
		token := s.rejoinToken
		s.tokenMu.Unlock()
		ch <- SessionSnapshot{
			State:        s.machine.State(),
			Race:         s.race,
			SelfID:       s.roster.SelfID(),
			HostID:       s.roster.HostID(),
			RejoinToken:  token,
			Participants: s.roster.Participants(),
			Verdicts:     s.tracker.Verdicts(),
			Progress:     s.tracker.Progress(),
			WPM:          s.tracker.WPM(),
			Accuracy:     s.tracker.Accuracy(),
			Errors:       s.tracker.Errors(),
			Leaderboard:  s.reconciler.Leaderboard(),
		}
	})
	select {
	case snap := <-ch:
		return snap
	case <-s.done:
		return SessionSnapshot{}
	}
}

// Retry resets reconnection backoff after the transport gave up.
func (s *Session) Retry() {
	s.transport.Retry()
}

// Insert feeds typed characters into the tracker. Composed (IME) input
// arrives as a whole string. Each accepted batch emits one progress
// intent; crossing the extension threshold of a timed race requests
// more text, and completing the paragraph emits the one-shot finish
// intent.
func (s *Session) Insert(text string) {
	s.do(func() {
		if s.machine.State() != StateRacing {
			return
		}
		out := s.tracker.Insert(text)
		if out.Accepted == 0 {
			return
		}
		s.sendProgress()
		if out.NeedsExtension && s.race.RaceType == api.RaceTypeTimed {
			s.send(api.RequestTypeExtendParagraph, api.ExtendParagraphRequestData{
				RaceID:        s.race.ID,
				ParticipantID: s.roster.SelfID(),
			})
		}
		if out.Finished {
			s.send(api.RequestTypeFinish, api.FinishRequestData{
				RaceID:        s.race.ID,
				ParticipantID: s.roster.SelfID(),
				Progress:      s.tracker.Progress(),
				WPM:           s.tracker.WPM(),
				Accuracy:      s.tracker.Accuracy(),
				Errors:        s.tracker.Errors(),
			})
		}
	})
}

// Backspace reverts the last typed character.
func (s *Session) Backspace() {
	s.do(func() {
		if s.machine.State() != StateRacing {
			return
		}
		if s.tracker.Backspace() {
			s.sendProgress()
		}
	})
}

// Paste rejects clipboard insertion.
func (s *Session) Paste(string) error {
	return ErrClipboardBlocked
}

// Cut rejects clipboard removal.
func (s *Session) Cut() error {
	return ErrClipboardBlocked
}

func (s *Session) sendProgress() {
	s.send(api.RequestTypeProgress, api.ProgressRequestData{
		ParticipantID: s.roster.SelfID(),
		Progress:      s.tracker.Progress(),
		WPM:           s.tracker.WPM(),
		Accuracy:      s.tracker.Accuracy(),
		Errors:        s.tracker.Errors(),
	})
}

// ToggleReady flips the local ready flag. The host is implicitly ready
// and has nothing to toggle.
func (s *Session) ToggleReady() error {
	return s.call(func() error {
		if s.roster.IsHost() {
			return nil
		}
		s.send(api.RequestTypeReadyToggle, api.ReadyToggleRequestData{
			RaceID:        s.race.ID,
			ParticipantID: s.roster.SelfID(),
		})
		return nil
	})
}

// StartRace proposes the countdown. Host only; the transition itself
// is committed when countdown_start arrives.
func (s *Session) StartRace() error {
	return s.call(func() error {
		if !s.roster.IsHost() {
			return ErrNotHost
		}
		s.send(api.RequestTypeStartRace, api.StartRaceRequestData{
			RaceID:        s.race.ID,
			ParticipantID: s.roster.SelfID(),
		})
		return nil
	})
}

// Kick removes another participant. Host only.
func (s *Session) Kick(targetID string) error {
	return s.call(func() error {
		if !s.roster.IsHost() {
			return ErrNotHost
		}
		s.send(api.RequestTypeKickPlayer, api.KickPlayerRequestData{
			RaceID:              s.race.ID,
			ParticipantID:       s.roster.SelfID(),
			TargetParticipantID: targetID,
		})
		return nil
	})
}

// SetLocked toggles the room lock. Host only.
func (s *Session) SetLocked(locked bool) error {
	return s.call(func() error {
		if !s.roster.IsHost() {
			return ErrNotHost
		}
		s.send(api.RequestTypeLockRoom, api.LockRoomRequestData{
			RaceID:        s.race.ID,
			ParticipantID: s.roster.SelfID(),
			Locked:        locked,
		})
		return nil
	})
}

// SendChat relays a chat line to the room.
func (s *Session) SendChat(content string) {
	s.do(func() {
		s.send(api.RequestTypeChat, api.ChatRequestData{
			RaceID:        s.race.ID,
			ParticipantID: s.roster.SelfID(),
			Content:       content,
		})
	})
}

// Rematch asks the server to open a linked fresh race once this one
// finished. The resulting rematch_available event never reopens this
// session.
func (s *Session) Rematch() error {
	return s.call(func() error {
		if s.machine.State() != StateFinished {
			return ErrNotRacing
		}
		s.send(api.RequestTypeRematch, api.RematchRequestData{
			RaceID:        s.race.ID,
			ParticipantID: s.roster.SelfID(),
			Username:      s.cfg.Username,
		})
		return nil
	})
}

// Leave exits the session. Mid-race it produces a DNF on the server.
func (s *Session) Leave() {
	_ = s.call(func() error {
		racing := s.machine.State() == StateRacing
		s.send(api.RequestTypeLeave, api.LeaveRequestData{
			RaceID:        s.race.ID,
			ParticipantID: s.roster.SelfID(),
			IsRacing:      racing,
			Progress:      s.tracker.Progress(),
			WPM:           s.tracker.WPM(),
			Accuracy:      s.tracker.Accuracy(),
		})
		s.transport.SetTerminal()
		return nil
	})
	s.Close()
}

// dispatch applies one inbound protocol event. Malformed events are
// logged and dropped; the state machine never crashes on wire input.
func (s *Session) dispatch(msg api.Response[json.RawMessage]) {
	switch msg.Type {
	case api.ResponseTypeJoined:
		s.onJoined(msg.Data)
	case api.ResponseTypeParticipantJoined:
		decodeInto(s, msg.Data, func(d api.ParticipantJoinedResponseData) {
			s.roster.Upsert(d.Participant)
			s.emitRoster()
		})
	case api.ResponseTypeReadyStateUpdate:
		decodeInto(s, msg.Data, func(d api.ReadyStateUpdateResponseData) {
			s.roster.ApplyReadyStates(d.ReadyStates)
			s.emitRoster()
		})
	case api.ResponseTypeCountdownStart:
		decodeInto(s, msg.Data, func(d api.CountdownStartResponseData) {
			if !s.machine.CountdownStarted(d.Countdown) {
				return
			}
			for _, p := range d.Participants {
				s.roster.Upsert(p)
			}
			s.race.Status = api.RaceStatusCountdown
			s.hook(func(h Hooks) { h.OnState(StateCountdown) }, s.cfg.Hooks.OnState != nil)
			s.hook(func(h Hooks) { h.OnCountdown(d.Countdown) }, s.cfg.Hooks.OnCountdown != nil)
		})
	case api.ResponseTypeCountdown:
		decodeInto(s, msg.Data, func(d api.CountdownResponseData) {
			if s.machine.Tick(d.Countdown) {
				s.hook(func(h Hooks) { h.OnCountdown(d.Countdown) }, s.cfg.Hooks.OnCountdown != nil)
			}
		})
	case api.ResponseTypeCountdownCancelled:
		decodeInto(s, msg.Data, func(d api.CountdownCancelledResponseData) {
			if s.machine.CountdownCancelled() {
				s.race.Status = api.RaceStatusWaiting
				s.hook(func(h Hooks) { h.OnState(StateWaiting) }, s.cfg.Hooks.OnState != nil)
				s.hook(func(h Hooks) { h.OnCountdownCancelled(d.Reason) }, s.cfg.Hooks.OnCountdownCancelled != nil)
			}
		})
	case api.ResponseTypeRaceStart:
		decodeInto(s, msg.Data, s.onRaceStart)
	case api.ResponseTypeParagraphExtended:
		decodeInto(s, msg.Data, func(d api.ParagraphExtendedResponseData) {
			s.race.Paragraph += d.AdditionalContent
			s.tracker.Grow(d.AdditionalContent)
		})
	case api.ResponseTypeProgressUpdate:
		decodeInto(s, msg.Data, func(d api.ProgressUpdateResponseData) {
			s.roster.ApplyProgress(d)
			s.hook(func(h Hooks) { h.OnProgress(d) }, s.cfg.Hooks.OnProgress != nil)
		})
	case api.ResponseTypeParticipantFinished:
		decodeInto(s, msg.Data, func(d api.ParticipantFinishedResponseData) {
			s.roster.MarkFinished(d.ParticipantID, d.Position)
			s.emitRoster()
		})
	case api.ResponseTypeRaceFinished:
		decodeInto(s, msg.Data, s.onRaceFinished)
	case api.ResponseTypeParticipantLeft, api.ResponseTypePlayerKicked:
		decodeInto(s, msg.Data, func(d api.ParticipantLeftResponseData) {
			s.roster.Remove(d.ParticipantID)
			s.emitRoster()
		})
	case api.ResponseTypeParticipantDNF:
		decodeInto(s, msg.Data, func(d api.ParticipantLeftResponseData) {
			s.roster.SetConnected(d.ParticipantID, false)
			s.emitRoster()
		})
	case api.ResponseTypeParticipantDisconnected:
		decodeInto(s, msg.Data, func(d api.ParticipantLeftResponseData) {
			s.roster.SetConnected(d.ParticipantID, false)
			s.emitRoster()
		})
	case api.ResponseTypeParticipantReconnected:
		decodeInto(s, msg.Data, func(d api.ParticipantLeftResponseData) {
			s.roster.SetConnected(d.ParticipantID, true)
			s.emitRoster()
		})
	case api.ResponseTypeHostChanged:
		decodeInto(s, msg.Data, func(d api.HostChangedResponseData) {
			s.roster.SetHost(d.NewHostParticipantID)
			s.hook(func(h Hooks) { h.OnHostChanged(d.NewHostParticipantID) }, s.cfg.Hooks.OnHostChanged != nil)
			s.emitRoster()
		})
	case api.ResponseTypeRoomLockChanged:
		decodeInto(s, msg.Data, func(d api.RoomLockChangedResponseData) {
			s.roster.SetRoomLocked(d.IsLocked)
		})
	case api.ResponseTypeKicked:
		decodeInto(s, msg.Data, func(d api.KickedResponseData) {
			s.hook(func(h Hooks) { h.OnKicked(d.Message) }, s.cfg.Hooks.OnKicked != nil)
			// Kicked means out, whatever the race state.
			s.transport.SetTerminal()
			s.Close()
		})
	case api.ResponseTypeChat:
		decodeInto(s, msg.Data, func(d api.ChatResponseData) {
			s.hook(func(h Hooks) { h.OnChat(d) }, s.cfg.Hooks.OnChat != nil)
		})
	case api.ResponseTypeRematchAvailable:
		decodeInto(s, msg.Data, func(d api.RematchAvailableResponseData) {
			s.hook(func(h Hooks) { h.OnRematch(d) }, s.cfg.Hooks.OnRematch != nil)
		})
	case api.ResponseTypeError:
		decodeInto(s, msg.Data, func(d api.WebsocketErrorData) {
			s.log.Warn().Uint8("code", uint8(d.Code)).Str("message", d.Message).Msg("server error")
			s.hook(func(h Hooks) { h.OnError(d) }, s.cfg.Hooks.OnError != nil)
		})
	default:
		s.log.Debug().Str("type", string(msg.Type)).Msg("unhandled event")
	}
}

func (s *Session) onJoined(data json.RawMessage) {
	decodeInto(s, data, func(d api.JoinedResponseData) {
		if s.cfg.RaceID != "" && d.Race.ID != s.cfg.RaceID {
			s.log.Warn().Str("event_race_id", d.Race.ID).Msg("joined event for another race, ignored")
			return
		}

		s.race = d.Race
		s.roster.Reset(d.ParticipantID, d.HostParticipantID, d.Participants)

		s.tokenMu.Lock()
		s.rejoinToken = d.RejoinToken
		s.tokenMu.Unlock()

		s.machine.Sync(d.Race.Status)

		// A rejoin can land mid-race; arm the tracker against the
		// server's start anchor so metrics stay comparable. An already
		// armed tracker keeps its verdicts: a transient reconnect must
		// not erase what the user typed.
		if s.machine.State() == StateRacing && d.Race.StartedAt != nil {
			if !s.tracker.Active() {
				s.tracker.Start(d.Race.Paragraph, *d.Race.StartedAt)
			} else if p := []rune(d.Race.Paragraph); len(p) > s.tracker.ParagraphLen() {
				// Extensions broadcast while disconnected.
				s.tracker.Grow(string(p[s.tracker.ParagraphLen():]))
			}
			s.armTimedTimer(d.Race.StartedAt, d.Race.TimeLimitSeconds)
		}

		s.hook(func(h Hooks) { h.OnState(s.machine.State()) }, s.cfg.Hooks.OnState != nil)
		s.emitRoster()
	})
}

func (s *Session) onRaceStart(d api.RaceStartResponseData) {
	if !s.machine.RaceStarted() {
		return
	}
	s.race.Status = api.RaceStatusRacing
	startedAt := d.StartedAt
	s.race.StartedAt = &startedAt
	s.tracker.Start(s.race.Paragraph, d.StartedAt)
	s.armTimedTimer(&startedAt, d.TimeLimitSeconds)
	s.hook(func(h Hooks) { h.OnState(StateRacing) }, s.cfg.Hooks.OnState != nil)
}

// armTimedTimer schedules the timed-finish intent against the
// server-provided start anchor so every client converges on the same
// zero instant.
func (s *Session) armTimedTimer(startedAt *time.Time, limitSeconds *int) {
	if startedAt == nil || limitSeconds == nil {
		return
	}
	if s.timedTimer != nil {
		s.timedTimer.Stop()
	}
	deadline := startedAt.Add(time.Duration(*limitSeconds) * time.Second)
	remaining := deadline.Sub(s.clk.Now())
	if remaining < 0 {
		remaining = 0
	}
	s.timedTimer = s.clk.AfterFunc(remaining, func() {
		s.do(s.onTimeLimit)
	})
}

func (s *Session) onTimeLimit() {
	if s.machine.State() != StateRacing {
		return
	}
	if !s.tracker.TimedFinishOnce() {
		return
	}
	s.send(api.RequestTypeTimedFinish, api.TimedFinishRequestData{
		RaceID:        s.race.ID,
		ParticipantID: s.roster.SelfID(),
		Progress:      s.tracker.Progress(),
		WPM:           s.tracker.WPM(),
		Accuracy:      s.tracker.Accuracy(),
		Errors:        s.tracker.Errors(),
	})
}

func (s *Session) onRaceFinished(d api.RaceFinishedResponseData) {
	if s.machine.State() != StateRacing && s.machine.State() != StateFinished {
		return
	}
	entered := s.machine.RaceFinished()
	if entered {
		s.race.Status = api.RaceStatusFinished
		s.transport.SetTerminal()
		if s.timedTimer != nil {
			s.timedTimer.Stop()
		}
	}

	board, first := s.reconciler.Apply(d.Results)
	if entered {
		s.hook(func(h Hooks) { h.OnState(StateFinished) }, s.cfg.Hooks.OnState != nil)
	}
	if first {
		s.hook(func(h Hooks) { h.OnFinished(board) }, s.cfg.Hooks.OnFinished != nil)
	}
}

func (s *Session) emitRoster() {
	s.hook(func(h Hooks) { h.OnRoster(s.roster.Participants()) }, s.cfg.Hooks.OnRoster != nil)
}

// decodeInto decodes a raw payload and applies it, or logs and drops
// it when malformed.
func decodeInto[T any](s *Session, data json.RawMessage, apply func(T)) {
	var d T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			s.log.Warn().Err(err).Msg("malformed event payload, ignored")
			return
		}
	}
	apply(d)
}
