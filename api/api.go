package api

import "encoding/json"

type RequestType string

const (
	RequestTypeUnknown         RequestType = "unknown"
	RequestTypeJoin            RequestType = "join"
	RequestTypeReadyToggle     RequestType = "ready_toggle"
	RequestTypeStartRace       RequestType = "start_race"
	RequestTypeProgress        RequestType = "progress"
	RequestTypeExtendParagraph RequestType = "extend_paragraph"
	RequestTypeFinish          RequestType = "finish"
	RequestTypeTimedFinish     RequestType = "timed_finish"
	RequestTypeLeave           RequestType = "leave"
	RequestTypeChat            RequestType = "chat_message"
	RequestTypeKickPlayer      RequestType = "kick_player"
	RequestTypeLockRoom        RequestType = "lock_room"
	RequestTypeRematch         RequestType = "rematch"
)

type ResponseType string

const (
	ResponseTypeError                   ResponseType = "error"
	ResponseTypeJoined                  ResponseType = "joined"
	ResponseTypeParticipantJoined       ResponseType = "participant_joined"
	ResponseTypeReadyStateUpdate        ResponseType = "ready_state_update"
	ResponseTypeCountdownStart          ResponseType = "countdown_start"
	ResponseTypeCountdown               ResponseType = "countdown"
	ResponseTypeCountdownCancelled      ResponseType = "countdown_cancelled"
	ResponseTypeRaceStart               ResponseType = "race_start"
	ResponseTypeParagraphExtended       ResponseType = "paragraph_extended"
	ResponseTypeProgressUpdate          ResponseType = "progress_update"
	ResponseTypeParticipantFinished     ResponseType = "participant_finished"
	ResponseTypeRaceFinished            ResponseType = "race_finished"
	ResponseTypeParticipantLeft         ResponseType = "participant_left"
	ResponseTypeParticipantDNF          ResponseType = "participant_dnf"
	ResponseTypeParticipantDisconnected ResponseType = "participant_disconnected"
	ResponseTypeParticipantReconnected  ResponseType = "participant_reconnected"
	ResponseTypeHostChanged             ResponseType = "host_changed"
	ResponseTypeRoomLockChanged         ResponseType = "room_lock_changed"
	ResponseTypeKicked                  ResponseType = "kicked"
	ResponseTypePlayerKicked            ResponseType = "player_kicked"
	ResponseTypeChat                    ResponseType = "chat_message"
	ResponseTypeRematchAvailable        ResponseType = "rematch_available"
)

type Request[T any] struct {
	Type RequestType `json:"type"`
	Data T           `json:"data,omitempty"`
}

type Response[T any] struct {
	Type    ResponseType `json:"type"`
	Message string       `json:"message,omitempty"`
	Data    T            `json:"data,omitempty"`
}

type (
	EmptyRequestData  struct{}
	EmptyResponseData struct{}
)

type JoinRequestData struct {
	RaceID      string `json:"raceId"`
	Username    string `json:"username"`
	RejoinToken string `json:"rejoinToken,omitempty"`
}

type ReadyToggleRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
}

type StartRaceRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
}

type ProgressRequestData struct {
	ParticipantID string `json:"participantId"`
	Progress      int    `json:"progress"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
	Errors        int    `json:"errors"`
}

type ExtendParagraphRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
}

type FinishRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
	Progress      int    `json:"progress"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
	Errors        int    `json:"errors"`
}

type TimedFinishRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
	Progress      int    `json:"progress"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
	Errors        int    `json:"errors"`
}

type LeaveRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
	IsRacing      bool   `json:"isRacing"`
	Progress      int    `json:"progress"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
}

type ChatRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
	Content       string `json:"content"`
}

type KickPlayerRequestData struct {
	RaceID              string `json:"raceId"`
	ParticipantID       string `json:"participantId"`
	TargetParticipantID string `json:"targetParticipantId"`
}

type LockRoomRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
	Locked        bool   `json:"locked"`
}

type RematchRequestData struct {
	RaceID        string `json:"raceId"`
	ParticipantID string `json:"participantId"`
	Username      string `json:"username"`
}

// DecodeJSON round-trips an already unmarshalled payload into a
// concrete request or response data type.
func DecodeJSON[T any](data any) (res T, err error) {
	b, err := json.Marshal(data)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return res, err
	}
	return res, nil
}
