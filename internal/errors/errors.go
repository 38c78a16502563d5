package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/amarcoder01/typemaster-race/api"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

var errorCodeHTTPStatusCode = map[api.HTTPErrorCode]int{
	api.MissingURLQueryHTTPCode:     http.StatusBadRequest,
	api.InternalServerErrorHTTPCode: http.StatusInternalServerError,
	api.RaceNotFoundHTTPCode:        http.StatusNotFound,
	api.InvalidRequestHTTPCode:      http.StatusBadRequest,
}

func WriteHTTPError(ctx context.Context, w http.ResponseWriter, err error) {
	res := api.HTTPErrorData{}
	statusCode := http.StatusInternalServerError

	apiErr := &api.ErrorData[api.HTTPErrorCode]{}
	if errors.As(err, apiErr) {
		res.Code = apiErr.Code
		res.Message = apiErr.Message
		res.Extra = apiErr.Extra
		if code, ok := errorCodeHTTPStatusCode[apiErr.Code]; ok {
			statusCode = code
		}
	} else {
		res.Code = api.InternalServerErrorHTTPCode
		res.Message = "unexpected error"
	}

	log.Ctx(ctx).Error().
		Err(err).
		Uint8("error_code", uint8(res.Code)).
		Int("status_code", statusCode).
		Msg("http error")

	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("http error: failed to encode response")
	}
}

func WriteWebsocketError(ctx context.Context, conn *websocket.Conn, err error) {
	res := api.Response[api.WebsocketErrorData]{
		Type: api.ResponseTypeError,
	}

	apiErr := &api.ErrorData[api.WebsocketErrorCode]{}
	if errors.As(err, apiErr) {
		res.Data.Request = apiErr.Request
		res.Data.Code = apiErr.Code
		res.Data.Message = apiErr.Message
		res.Data.Extra = apiErr.Extra
	} else {
		res.Data.Code = api.InternalServerErrorCode
		res.Data.Message = "unexpected error"
	}

	log.Ctx(ctx).Error().
		Err(err).
		Uint8("error_code", uint8(res.Data.Code)).
		Msg("ws error")

	if err := wsjson.Write(ctx, conn, res); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("ws error: failed to write response")
	}
}

func InvalidRequestError(err error, req api.RequestType, cause string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.InvalidRequestCode,
		Message: "invalid request",
		Extra: struct {
			Cause string `json:"cause"`
		}{
			Cause: cause,
		},
		Err: err,
	}
}

func NotHostError(req api.RequestType) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.NotHostCode,
		Message: "participant is not race host",
	}
}

func RaceNotFoundError(raceID string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Code:    api.RaceNotFoundCode,
		Message: "race not found",
		Extra: struct {
			RaceID string `json:"raceId"`
		}{
			RaceID: raceID,
		},
	}
}

func RaceFullError(maxPlayers int) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Code:    api.RaceFullCode,
		Message: "race is full",
		Extra: struct {
			MaxPlayers int `json:"maxPlayers"`
		}{
			MaxPlayers: maxPlayers,
		},
	}
}

func RoomLockedError() api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: api.RequestTypeJoin,
		Code:    api.RoomLockedCode,
		Message: "room is locked",
	}
}

func AlreadyJoinedError(req api.RequestType, username string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.AlreadyJoinedCode,
		Message: "participant already joined",
		Extra: struct {
			Username string `json:"username"`
		}{
			Username: username,
		},
	}
}

func UsernameExistsError(req api.RequestType, username string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.UsernameExistsCode,
		Message: "username already exists",
		Extra: struct {
			Username string `json:"username"`
		}{
			Username: username,
		},
	}
}

func RejoinFailedError(err error, cause string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: api.RequestTypeJoin,
		Code:    api.RejoinFailedCode,
		Message: "could not restore participant",
		Extra: struct {
			Cause string `json:"cause"`
		}{
			Cause: cause,
		},
		Err: err,
	}
}

func InputValidationError(err error, req api.RequestType, fields map[string]string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.InvalidInputCode,
		Message: "invalid input",
		Extra:   fields,
		Err:     err,
	}
}

func ParticipantNotFoundError(req api.RequestType, participantID string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.ParticipantNotFoundCode,
		Message: "participant not found",
		Extra: struct {
			ParticipantID string `json:"participantId"`
		}{
			ParticipantID: participantID,
		},
	}
}

func NotEnoughPlayersError(joined, required int) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: api.RequestTypeStartRace,
		Code:    api.NotEnoughPlayersCode,
		Message: "not enough players to start",
		Extra: struct {
			Joined   int `json:"joined"`
			Required int `json:"required"`
		}{
			Joined:   joined,
			Required: required,
		},
	}
}

func PlayersNotReadyError(notReady []string) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: api.RequestTypeStartRace,
		Code:    api.PlayersNotReadyCode,
		Message: "players are not ready",
		Extra: struct {
			NotReady []string `json:"notReady"`
		}{
			NotReady: notReady,
		},
	}
}

func RateLimitedError(req api.RequestType) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.RateLimitedCode,
		Message: "rate limited",
	}
}

func NotRacingError(req api.RequestType) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.NotRacingCode,
		Message: "race is not in progress",
	}
}

func InternalServerError(err error, req api.RequestType) api.ErrorData[api.WebsocketErrorCode] {
	return api.ErrorData[api.WebsocketErrorCode]{
		Request: req,
		Code:    api.InternalServerErrorCode,
		Message: "internal server error",
		Err:     err,
	}
}

func MissingURLQueryError(query string) api.ErrorData[api.HTTPErrorCode] {
	return api.ErrorData[api.HTTPErrorCode]{
		Code:    api.MissingURLQueryHTTPCode,
		Message: "missing url query",
		Extra: struct {
			Query string `json:"query"`
		}{
			Query: query,
		},
	}
}

func HTTPRaceNotFoundError(code string) api.ErrorData[api.HTTPErrorCode] {
	return api.ErrorData[api.HTTPErrorCode]{
		Code:    api.RaceNotFoundHTTPCode,
		Message: "race not found",
		Extra: struct {
			RoomCode string `json:"roomCode"`
		}{
			RoomCode: code,
		},
	}
}

func HTTPInvalidRequestError(err error, cause string) api.ErrorData[api.HTTPErrorCode] {
	return api.ErrorData[api.HTTPErrorCode]{
		Code:    api.InvalidRequestHTTPCode,
		Message: "invalid request",
		Extra: struct {
			Cause string `json:"cause"`
		}{
			Cause: cause,
		},
		Err: err,
	}
}

func HTTPInternalServerError(err error) api.ErrorData[api.HTTPErrorCode] {
	return api.ErrorData[api.HTTPErrorCode]{
		Code:    api.InternalServerErrorHTTPCode,
		Message: "internal server error",
		Err:     err,
	}
}
