package api

type HTTPErrorData struct {
	Code    HTTPErrorCode `json:"code"`
	Message string        `json:"message,omitempty"`
	Extra   any           `json:"extra,omitempty"`
}

type HTTPErrorCode uint8

const (
	MissingURLQueryHTTPCode     HTTPErrorCode = 101
	InternalServerErrorHTTPCode HTTPErrorCode = 102
	RaceNotFoundHTTPCode        HTTPErrorCode = 103
	InvalidRequestHTTPCode      HTTPErrorCode = 104
)

type WebsocketErrorData struct {
	Request RequestType        `json:"request,omitempty"`
	Code    WebsocketErrorCode `json:"code"`
	Message string             `json:"message,omitempty"`
	Extra   any                `json:"extra,omitempty"`
}

type WebsocketErrorCode uint8

const (
	InvalidRequestCode      WebsocketErrorCode = 201
	RaceNotFoundCode        WebsocketErrorCode = 202
	RaceFullCode            WebsocketErrorCode = 203
	AlreadyJoinedCode       WebsocketErrorCode = 204
	UsernameExistsCode      WebsocketErrorCode = 205
	RejoinFailedCode        WebsocketErrorCode = 206
	InvalidInputCode        WebsocketErrorCode = 207
	InternalServerErrorCode WebsocketErrorCode = 208
	NotHostCode             WebsocketErrorCode = 209
	ParticipantNotFoundCode WebsocketErrorCode = 210
	NotEnoughPlayersCode    WebsocketErrorCode = 211
	PlayersNotReadyCode     WebsocketErrorCode = 212
	RoomLockedCode          WebsocketErrorCode = 213
	RateLimitedCode         WebsocketErrorCode = 214
	NotRacingCode           WebsocketErrorCode = 215
	KickedCode              WebsocketErrorCode = 216
)

type ErrorCode interface {
	HTTPErrorCode | WebsocketErrorCode
}

type ErrorData[T ErrorCode] struct { //nolint: errname
	Request RequestType `json:"request,omitempty"`
	Code    T           `json:"code"`
	Message string      `json:"message,omitempty"`
	Extra   any         `json:"extra,omitempty"`
	Err     error       `json:"error,omitempty"`
}

func (e ErrorData[T]) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Err.Error()
}
