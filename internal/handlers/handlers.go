package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/amarcoder01/typemaster-race/api"
	"github.com/amarcoder01/typemaster-race/internal/config"
	errs "github.com/amarcoder01/typemaster-race/internal/errors"
	"github.com/amarcoder01/typemaster-race/internal/race"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

// CreateRaceHandler returns a handler capable of creating new races
// and storing them in the registry.
func CreateRaceHandler(cfg config.Config, races race.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateRaceRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				errs.WriteHTTPError(r.Context(), w, errs.HTTPInvalidRequestError(err, "invalid create race body"))
				return
			}
		}

		maxPlayers := req.MaxPlayers
		if maxPlayers == 0 {
			maxPlayers = cfg.Race.MaxPlayers
		}

		rc, err := races.Register(race.Options{
			MaxPlayers:         maxPlayers,
			Timed:              req.Timed,
			TimeLimitSeconds:   req.TimeLimitSeconds,
			ParagraphWords:     cfg.Race.ParagraphWords,
			ExtensionWords:     cfg.Race.ExtensionWords,
			ProgressRateLimit:  cfg.Race.ProgressRateLimit,
			ProgressRateWindow: cfg.Race.ProgressRateWindow,
			JWTSalt:            cfg.JWTSecret,
			RegisterTimeout:    cfg.Race.RegisterTimeout,
		})
		if err != nil {
			errs.WriteHTTPError(r.Context(), w, errs.HTTPInternalServerError(err))
			return
		}

		res := api.CreateRaceResponse{
			RaceID:   rc.ID(),
			RoomCode: rc.RoomCode(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(res); err != nil {
			log.Error().Err(err).Msg("create race response encode")
		}
	}
}

// SnapshotHandler serves the REST race snapshot used on page load and
// as a resync fallback once the finished state is reached.
func SnapshotHandler(races race.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.PathValue("code")
		if code == "" {
			errs.WriteHTTPError(r.Context(), w, errs.MissingURLQueryError("code"))
			return
		}

		rc, ok := races.Get(code)
		if !ok || rc == nil {
			errs.WriteHTTPError(r.Context(), w, errs.HTTPRaceNotFoundError(code))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rc.Snapshot()); err != nil {
			log.Error().Err(err).Msg("snapshot response encode")
		}
	}
}

// RaceHandler handles one websocket session inside a race.
type RaceHandler struct {
	cfg        config.Config
	races      race.Registry
	acceptOpts websocket.AcceptOptions
}

func NewRaceHandler(cfg config.Config, races race.Registry, acceptOpts websocket.AcceptOptions) RaceHandler {
	return RaceHandler{
		cfg:        cfg,
		races:      races,
		acceptOpts: acceptOpts,
	}
}

func (h RaceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		errs.WriteHTTPError(r.Context(), w, errs.MissingURLQueryError("code"))
		return
	}

	rc, ok := h.races.Get(code)
	if !ok || rc == nil {
		errs.WriteHTTPError(r.Context(), w, errs.HTTPRaceNotFoundError(code))
		return
	}

	if rc.Status() == race.StatusWaiting && rc.IsFull() {
		errs.WriteHTTPError(r.Context(), w, errs.HTTPInvalidRequestError(nil, "race is full"))
		return
	}

	conn, err := websocket.Accept(w, r, &h.acceptOpts)
	if err != nil {
		// Accept already writes a status code and error message.
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	conn.SetReadLimit(h.cfg.Race.WebsocketReadLimit)

	ctx := r.Context()
	rc.AddConn(conn)
	go ping(ctx, conn, 5*time.Second) // Detect timed out connection.
	defer h.handleDisconnect(rc, conn)

	h.readLoop(ctx, rc, conn)
}

func (h RaceHandler) readLoop(ctx context.Context, rc *race.Race, conn *websocket.Conn) {
	for {
		req := api.Request[json.RawMessage]{}
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 { // -1 is considered as an err unrelated to closing.
				timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				errs.WriteWebsocketError(timeoutCtx, conn, errs.InvalidRequestError(err, api.RequestTypeUnknown, "could not read websocket frame"))
				cancel()
			}
			return
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)

		switch rc.Status() {
		case race.StatusWaiting, race.StatusCountdown:
			h.handleWaitingState(timeoutCtx, req, rc, conn)
		case race.StatusRacing:
			h.handleRacingState(timeoutCtx, req, rc, conn)
		case race.StatusFinished:
			h.handleFinishedState(timeoutCtx, req, rc, conn)
		}

		cancel()
	}
}

func ping(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := conn.Ping(timeoutCtx); err != nil {
				cancel()
				conn.CloseNow()
				return
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func (h RaceHandler) handleDisconnect(rc *race.Race, conn *websocket.Conn) {
	conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, ok := rc.GetParticipantByConn(conn)
	if !ok || p == nil {
		// Conn never joined, just free the slot.
		rc.DeleteParticipantByConn(conn)
		return
	}

	switch rc.Status() {
	case race.StatusWaiting, race.StatusCountdown:
		h.dropFromWaitingRoom(ctx, rc, conn, p, "disconnect")
	case race.StatusRacing:
		// Keep the participant; a rejoin token may reclaim it.
		p.Disconnect()
		if p.Finished() {
			// An explicit leave or finish already told everyone.
			return
		}
		if err := rc.Broadcast(ctx, api.Response[api.ParticipantLeftResponseData]{
			Type: api.ResponseTypeParticipantDisconnected,
			Data: api.ParticipantLeftResponseData{
				ParticipantID: p.ID(),
				Username:      p.Username(),
			},
		}); err != nil {
			log.Error().Err(err).Msg("broadcast participant disconnected")
		}
		h.migrateHostIfNeeded(ctx, rc, p)
		rc.MaybeFinish()
	default:
		rc.DeleteParticipantByConn(conn)
	}
}

// dropFromWaitingRoom removes a participant before the race started,
// reassigning the host role and cancelling the countdown when needed.
func (h RaceHandler) dropFromWaitingRoom(ctx context.Context, rc *race.Race, conn *websocket.Conn, p *race.Participant, reason string) {
	wasHost := rc.Host() == p.ID()
	rc.DeleteParticipantByConn(conn)

	log.Info().
		Str("race_id", rc.ID()).
		Str("participant_id", p.ID()).
		Str("reason", reason).
		Msg("participant dropped from waiting room")

	if err := rc.Broadcast(ctx, api.Response[api.ParticipantLeftResponseData]{
		Type: api.ResponseTypeParticipantLeft,
		Data: api.ParticipantLeftResponseData{
			ParticipantID: p.ID(),
			Username:      p.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Msg("broadcast participant left")
	}

	if rc.Status() == race.StatusCountdown {
		_ = rc.CancelCountdown(p.Username() + " left before start")
	}

	if !wasHost {
		return
	}

	newHost, ok := rc.MigrateHost()
	if !ok {
		// No participants left, discard the race.
		h.races.Delete(rc.RoomCode())
		return
	}

	if err := rc.Broadcast(ctx, api.Response[api.HostChangedResponseData]{
		Type: api.ResponseTypeHostChanged,
		Data: api.HostChangedResponseData{
			NewHostParticipantID: newHost.ID(),
			NewHostUsername:      newHost.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Msg("broadcast host changed")
	}
}

func (h RaceHandler) migrateHostIfNeeded(ctx context.Context, rc *race.Race, p *race.Participant) {
	if rc.Host() != p.ID() {
		return
	}
	newHost, ok := rc.MigrateHost()
	if !ok {
		return
	}
	if err := rc.Broadcast(ctx, api.Response[api.HostChangedResponseData]{
		Type: api.ResponseTypeHostChanged,
		Data: api.HostChangedResponseData{
			NewHostParticipantID: newHost.ID(),
			NewHostUsername:      newHost.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Msg("broadcast host changed")
	}
}
