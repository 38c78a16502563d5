package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/amarcoder01/typemaster-race/api"
	errs "github.com/amarcoder01/typemaster-race/internal/errors"
	"github.com/amarcoder01/typemaster-race/internal/race"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

func (h RaceHandler) handleRacingState(ctx context.Context, req api.Request[json.RawMessage], rc *race.Race, conn *websocket.Conn) {
	switch req.Type {
	case api.RequestTypeJoin:
		// Only token rejoins are accepted once racing.
		join, err := api.DecodeJSON[api.JoinRequestData](req.Data)
		if err != nil || join.RejoinToken == "" {
			errs.WriteWebsocketError(ctx, conn, errs.NotRacingError(api.RequestTypeJoin))
			return
		}
		h.handleRejoin(ctx, rc, conn, join)
	case api.RequestTypeProgress:
		handleProgressRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeExtendParagraph:
		handleExtendRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeFinish:
		handleFinishRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeTimedFinish:
		handleTimedFinishRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeChat:
		handleChatRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeKickPlayer:
		h.handleRacingKickRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeLockRoom:
		handleLockRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeLeave:
		h.handleRacingLeaveRequest(ctx, rc, conn, req.Data)
	default:
		err := fmt.Errorf("unknown request: %s", req.Type)
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeUnknown, err.Error()))
	}
}

func handleProgressRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.ProgressRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeProgress, "invalid progress request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeProgress, "", req.ParticipantID)
	if !ok {
		return
	}

	if !p.AllowProgress() {
		errs.WriteWebsocketError(ctx, conn, errs.RateLimitedError(api.RequestTypeProgress))
		return
	}

	if err := rc.Progress(ctx, p, req); err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.NotRacingError(api.RequestTypeProgress))
	}
}

func handleExtendRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.ExtendParagraphRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeExtendParagraph, "invalid extend request"))
		return
	}

	if _, ok := requireParticipant(ctx, rc, conn, api.RequestTypeExtendParagraph, req.RaceID, req.ParticipantID); !ok {
		return
	}

	if err := rc.Extend(ctx); err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.NotRacingError(api.RequestTypeExtendParagraph))
	}
}

func handleFinishRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.FinishRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeFinish, "invalid finish request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeFinish, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	// The server is authoritative on completion: a finish intent must
	// cover the whole paragraph.
	if req.Progress < utf8.RuneCountInString(rc.Paragraph()) {
		err := errors.New("paragraph not complete")
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeFinish, err.Error()))
		return
	}

	if err := rc.FinishParticipant(ctx, p, req.Progress, req.WPM, req.Accuracy, req.Errors); err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.NotRacingError(api.RequestTypeFinish))
	}
}

func handleTimedFinishRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.TimedFinishRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeTimedFinish, "invalid timed finish request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeTimedFinish, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	if err := rc.TimedFinish(p, req); err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.NotRacingError(api.RequestTypeTimedFinish))
	}
}

// handleRacingKickRequest removes a racer mid-race as a DNF: the
// kicked participant's row survives into the final results, only his
// websocket goes away.
func (h RaceHandler) handleRacingKickRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.KickPlayerRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeKickPlayer, "invalid kick request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeKickPlayer, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	if rc.Host() != p.ID() {
		errs.WriteWebsocketError(ctx, conn, errs.NotHostError(api.RequestTypeKickPlayer))
		return
	}

	targetConn, target, ok := rc.GetParticipant(req.TargetParticipantID)
	if !ok {
		errs.WriteWebsocketError(ctx, conn, errs.ParticipantNotFoundError(api.RequestTypeKickPlayer, req.TargetParticipantID))
		return
	}

	// Tell the target first; the conn closes right after.
	if err := rc.SendTo(ctx, target.ID(), api.Response[api.KickedResponseData]{
		Type: api.ResponseTypeKicked,
		Data: api.KickedResponseData{Message: "you were kicked from the race"},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", target.ID()).Msg("kicked notice write")
	}

	rc.MarkDNF(ctx, target)

	if err := rc.Broadcast(ctx, api.Response[api.PlayerKickedResponseData]{
		Type: api.ResponseTypePlayerKicked,
		Data: api.PlayerKickedResponseData{
			ParticipantID: target.ID(),
			Username:      target.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", target.ID()).Msg("broadcast player kicked")
	}

	target.Disconnect()
	if targetConn != nil {
		targetConn.Close(websocket.StatusNormalClosure, "kicked from race")
	}
}

// handleRacingLeaveRequest turns an explicit mid-race leave into a DNF.
func (h RaceHandler) handleRacingLeaveRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.LeaveRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeLeave, "invalid leave request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeLeave, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	// Record the racer's last reported stats before marking the DNF.
	if req.IsRacing {
		p.RecordLeaveStats(req.Progress, req.WPM, req.Accuracy)
	}

	rc.MarkDNF(ctx, p)

	if err := rc.Broadcast(ctx, api.Response[api.ParticipantLeftResponseData]{
		Type: api.ResponseTypeParticipantLeft,
		Data: api.ParticipantLeftResponseData{
			ParticipantID: p.ID(),
			Username:      p.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", p.ID()).Msg("broadcast participant left")
	}

	h.migrateHostIfNeeded(ctx, rc, p)

	// Keep the participant so the DNF row survives into the final
	// results; only the websocket goes away.
	p.Disconnect()
	conn.Close(websocket.StatusNormalClosure, "left race")
}
