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
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

func (h RaceHandler) handleWaitingState(ctx context.Context, req api.Request[json.RawMessage], rc *race.Race, conn *websocket.Conn) {
	switch req.Type {
	case api.RequestTypeJoin:
		h.handleJoinRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeReadyToggle:
		handleReadyToggleRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeStartRace:
		h.handleStartRaceRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeKickPlayer:
		handleKickRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeLockRoom:
		handleLockRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeChat:
		handleChatRequest(ctx, rc, conn, req.Data)
	case api.RequestTypeLeave:
		h.handleWaitingLeaveRequest(ctx, rc, conn)
	default:
		err := fmt.Errorf("unknown request: %s", req.Type)
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeUnknown, err.Error()))
	}
}

func (h RaceHandler) handleJoinRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.JoinRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeJoin, "invalid join request"))
		return
	}

	if req.RejoinToken != "" {
		h.handleRejoin(ctx, rc, conn, req)
		return
	}

	// Cancel join if the conn already carries a participant.
	if p, ok := rc.GetParticipantByConn(conn); ok && p != nil {
		errs.WriteWebsocketError(ctx, conn, errs.AlreadyJoinedError(api.RequestTypeJoin, p.Username()))
		return
	}

	if rc.Locked() {
		errs.WriteWebsocketError(ctx, conn, errs.RoomLockedError())
		return
	}

	if err := validateUsername(req.Username); err != nil {
		fields := map[string]string{"username": err.Error()}
		errs.WriteWebsocketError(ctx, conn, errs.InputValidationError(err, api.RequestTypeJoin, fields))
		return
	}

	if rc.UsernameTaken(req.Username) {
		errs.WriteWebsocketError(ctx, conn, errs.UsernameExistsError(api.RequestTypeJoin, req.Username))
		return
	}

	p := rc.Join(conn, req.Username)

	token, err := rc.NewToken(p.ID())
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InternalServerError(err, api.RequestTypeJoin))
		return
	}

	res := api.Response[api.JoinedResponseData]{
		Type: api.ResponseTypeJoined,
		Data: api.JoinedResponseData{
			Race:              rc.Data(),
			Participants:      rc.ParticipantList(),
			HostParticipantID: rc.Host(),
			ParticipantID:     p.ID(),
			RejoinToken:       token,
		},
	}
	if err := wsjson.Write(ctx, conn, res); err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("joined response write")
		return
	}

	if err := rc.Broadcast(ctx, api.Response[api.ParticipantJoinedResponseData]{
		Type: api.ResponseTypeParticipantJoined,
		Data: api.ParticipantJoinedResponseData{
			Participant:  p.Data(),
			Participants: rc.ParticipantList(),
		},
	}); err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("broadcast participant joined")
	}
}

// handleRejoin restores a disconnected participant's identity from a
// rejoin token. It is valid in every race state.
func (h RaceHandler) handleRejoin(ctx context.Context, rc *race.Race, conn *websocket.Conn, req api.JoinRequestData) {
	participantID, err := rc.CheckToken(req.RejoinToken)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.RejoinFailedError(err, "invalid rejoin token"))
		return
	}

	p, ok := rc.ReplaceParticipantConn(participantID, conn)
	if !ok {
		errs.WriteWebsocketError(ctx, conn, errs.RejoinFailedError(nil, "participant no longer in race"))
		return
	}

	res := api.Response[api.JoinedResponseData]{
		Type: api.ResponseTypeJoined,
		Data: api.JoinedResponseData{
			Race:              rc.Data(),
			Participants:      rc.ParticipantList(),
			HostParticipantID: rc.Host(),
			ParticipantID:     p.ID(),
			RejoinToken:       req.RejoinToken,
		},
	}
	if err := wsjson.Write(ctx, conn, res); err != nil {
		log.Error().Err(err).Str("participant_id", participantID).Msg("rejoin response write")
		return
	}

	if err := rc.Broadcast(ctx, api.Response[api.ParticipantLeftResponseData]{
		Type: api.ResponseTypeParticipantReconnected,
		Data: api.ParticipantLeftResponseData{
			ParticipantID: p.ID(),
			Username:      p.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", participantID).Msg("broadcast participant reconnected")
	}
}

func handleReadyToggleRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.ReadyToggleRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeReadyToggle, "invalid ready toggle request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeReadyToggle, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	if rc.Host() == p.ID() {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(nil, api.RequestTypeReadyToggle, "host is implicitly ready"))
		return
	}

	isReady := p.ToggleReady()

	if err := rc.Broadcast(ctx, api.Response[api.ReadyStateUpdateResponseData]{
		Type: api.ResponseTypeReadyStateUpdate,
		Data: api.ReadyStateUpdateResponseData{
			ReadyStates:   rc.ReadyStates(),
			ParticipantID: p.ID(),
			IsReady:       isReady,
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", p.ID()).Msg("broadcast ready state update")
	}
}

func (h RaceHandler) handleStartRaceRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.StartRaceRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeStartRace, "invalid start race request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeStartRace, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	if rc.Host() != p.ID() {
		errs.WriteWebsocketError(ctx, conn, errs.NotHostError(api.RequestTypeStartRace))
		return
	}

	if joined := rc.NumConns(); joined < h.cfg.Race.MinPlayers {
		errs.WriteWebsocketError(ctx, conn, errs.NotEnoughPlayersError(joined, h.cfg.Race.MinPlayers))
		return
	}

	if notReady := rc.NotReady(); len(notReady) > 0 {
		errs.WriteWebsocketError(ctx, conn, errs.PlayersNotReadyError(notReady))
		return
	}

	if err := rc.StartCountdown(h.cfg.Race.CountdownSeconds); err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeStartRace, "race already starting"))
	}
}

func handleKickRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
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

	_, target, ok := rc.GetParticipant(req.TargetParticipantID)
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

	rc.DeleteParticipant(target.ID())

	if err := rc.Broadcast(ctx, api.Response[api.PlayerKickedResponseData]{
		Type: api.ResponseTypePlayerKicked,
		Data: api.PlayerKickedResponseData{
			ParticipantID: target.ID(),
			Username:      target.Username(),
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", target.ID()).Msg("broadcast player kicked")
	}
}

func handleLockRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.LockRoomRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeLockRoom, "invalid lock request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeLockRoom, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	if rc.Host() != p.ID() {
		errs.WriteWebsocketError(ctx, conn, errs.NotHostError(api.RequestTypeLockRoom))
		return
	}

	rc.SetLocked(req.Locked)

	if err := rc.Broadcast(ctx, api.Response[api.RoomLockChangedResponseData]{
		Type: api.ResponseTypeRoomLockChanged,
		Data: api.RoomLockChangedResponseData{IsLocked: req.Locked},
	}); err != nil {
		log.Error().Err(err).Msg("broadcast room lock changed")
	}
}

func handleChatRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn, data json.RawMessage) {
	req, err := api.DecodeJSON[api.ChatRequestData](data)
	if err != nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, api.RequestTypeChat, "invalid chat request"))
		return
	}

	p, ok := requireParticipant(ctx, rc, conn, api.RequestTypeChat, req.RaceID, req.ParticipantID)
	if !ok {
		return
	}

	if req.Content == "" || utf8.RuneCountInString(req.Content) > 500 {
		fields := map[string]string{"content": "must be 1 to 500 characters"}
		errs.WriteWebsocketError(ctx, conn, errs.InputValidationError(nil, api.RequestTypeChat, fields))
		return
	}

	if err := rc.Broadcast(ctx, api.Response[api.ChatResponseData]{
		Type: api.ResponseTypeChat,
		Data: api.ChatResponseData{
			ParticipantID: p.ID(),
			Username:      p.Username(),
			Content:       req.Content,
			SentAt:        rc.Now(),
		},
	}); err != nil {
		log.Error().Err(err).Str("participant_id", p.ID()).Msg("broadcast chat message")
	}
}

func (h RaceHandler) handleWaitingLeaveRequest(ctx context.Context, rc *race.Race, conn *websocket.Conn) {
	p, ok := rc.GetParticipantByConn(conn)
	if !ok || p == nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(nil, api.RequestTypeLeave, "conn has no participant"))
		return
	}
	h.dropFromWaitingRoom(ctx, rc, conn, p, "leave")
}

// requireParticipant resolves the conn's participant and checks the
// race and participant ids carried by the intent against the session.
func requireParticipant(ctx context.Context, rc *race.Race, conn *websocket.Conn, req api.RequestType, raceID, participantID string) (*race.Participant, bool) {
	p, ok := rc.GetParticipantByConn(conn)
	if !ok || p == nil {
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(nil, req, "conn has no participant"))
		return nil, false
	}
	if raceID != "" && raceID != rc.ID() {
		err := errors.New("intent race id does not match session")
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, req, err.Error()))
		return nil, false
	}
	if participantID != "" && participantID != p.ID() {
		err := errors.New("intent participant id does not match session")
		errs.WriteWebsocketError(ctx, conn, errs.InvalidRequestError(err, req, err.Error()))
		return nil, false
	}
	return p, true
}

func validateUsername(username string) error {
	count := utf8.RuneCountInString(username)
	if count < 3 {
		return errors.New("username too short")
	}
	if count > 25 {
		return errors.New("username too long")
	}
	return nil
}
