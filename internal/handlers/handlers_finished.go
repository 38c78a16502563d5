package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amarcoder01/typemaster-race/api"
	errs "github.com/amarcoder01/typemaster-race/internal/errors"
	"github.com/amarcoder01/typemaster-race/internal/race"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

func (h RaceHandler) handleFinishedState(ctx context.Context, req api.Request[json.RawMessage], rc *race.Race, conn *websocket.Conn) {
	switch req.Type {
	case api.RequestTypeJoin:
		// A late resync after the race ended; only token rejoins work.
		join, err := api.DecodeJSON[api.JoinRequestData](req.Data)
		if err != nil || join.RejoinToken == "" {
			errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeJoin, "race already finished"))
			return
		}
		h.handleRejoin(ctx, rc, conn, join)
	case api.RequestTypeChat:
		handleChatRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeRematch:
		h.handleRematchRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeLeave:
		rc.DeleteParticipantByConn(conn)
		conn.Close(websocket.StatusNormalClosure, "left race")
	default:
		err := fmt.Errorf("unknown request: %s", req.Type)
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeUnknown, err.Error()))
	}
}

// handleRematchRequest spins up a linked fresh race and advertises it
// to everyone still connected. The finished session itself never
// reopens.
func (h RaceHandler) handleRematchRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.RematchRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeRematch, "invalid rematch request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeRematch, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	timed, timeLimit := rc.TimedInfo()
	next, err := h.races.Register(race.Options{
		MaxPlayers:         rc.MaxPlayers(),
		Timed:              timed,
		TimeLimitSeconds:   timeLimit,
		ParagraphWords:     h.cfg.Race.ParagraphWords,
		ExtensionWords:     h.cfg.Race.ExtensionWords,
		ProgressRateLimit:  h.cfg.Race.ProgressRateLimit,
		ProgressRateWindow: h.cfg.Race.ProgressRateWindow,
		JWTSalt:            h.cfg.JWTSecret,
		RegisterTimeout:    h.cfg.Race.RegisterTimeout,
	})
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InternalServerError(err, api.RequestTypeRematch))
		return
	}

	if err := rc.Broadcast(ctx, api.Response[api.RematchAvailableResponseData]{
		Type: api.ResponseTypeRematchAvailable,
		Data: api.RematchAvailableResponseData{
			NewRaceID: next.ID(),
			RoomCode:  next.RoomCode(),
			CreatedBy: p.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", p.ID()).Msg("broadcast rematch available")
	}
}
