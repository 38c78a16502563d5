package api

import "time"

const (
	RaceStatusWaiting   = "waiting"
	RaceStatusCountdown = "countdown"
	RaceStatusRacing    = "racing"
	RaceStatusFinished  = "finished"
)

const (
	RaceTypeUntimed = "untimed"
	RaceTypeTimed   = "timed"
)

// RaceData is the wire representation of a race.
type RaceData struct {
	ID               string     `json:"id"`
	RoomCode         string     `json:"roomCode"`
	Status           string     `json:"status"`
	Paragraph        string     `json:"paragraph"`
	MaxPlayers       int        `json:"maxPlayers"`
	RaceType         string     `json:"raceType"`
	TimeLimitSeconds *int       `json:"timeLimitSeconds,omitempty"`
	Locked           bool       `json:"locked"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
}

// ParticipantData is the wire representation of a racer.
type ParticipantData struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Progress       int    `json:"progress"`
	WPM            int    `json:"wpm"`
	Accuracy       int    `json:"accuracy"`
	Errors         int    `json:"errors"`
	IsReady        bool   `json:"isReady"`
	IsFinished     bool   `json:"isFinished"`
	FinishPosition *int   `json:"finishPosition,omitempty"`
	Connected      bool   `json:"connected"`
	Rating         *int   `json:"rating,omitempty"`
	Tier           string `json:"tier,omitempty"`
}

// ResultData is one row of the authoritative final leaderboard.
// A nil Position means the participant did not finish.
type ResultData struct {
	ParticipantID string `json:"participantId"`
	Username      string `json:"username"`
	Position      *int   `json:"position"`
	Progress      int    `json:"progress"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
	Errors        int    `json:"errors"`
	DNF           bool   `json:"dnf"`
}

type ReadyState struct {
	ParticipantID string `json:"participantId"`
	IsReady       bool   `json:"isReady"`
}

type JoinedResponseData struct {
	Race              RaceData          `json:"race"`
	Participants      []ParticipantData `json:"participants"`
	HostParticipantID string            `json:"hostParticipantId"`
	ParticipantID     string            `json:"participantId"`
	RejoinToken       string            `json:"rejoinToken"`
}

type ParticipantJoinedResponseData struct {
	Participant  ParticipantData   `json:"participant"`
	Participants []ParticipantData `json:"participants"`
}

type ReadyStateUpdateResponseData struct {
	ReadyStates   []ReadyState `json:"readyStates"`
	ParticipantID string       `json:"participantId,omitempty"`
	IsReady       bool         `json:"isReady,omitempty"`
}

type CountdownStartResponseData struct {
	Countdown    int               `json:"countdown"`
	Participants []ParticipantData `json:"participants"`
}

type CountdownResponseData struct {
	Countdown int `json:"countdown"`
}

type CountdownCancelledResponseData struct {
	Reason string `json:"reason"`
}

type RaceStartResponseData struct {
	StartedAt        time.Time `json:"startedAt"`
	TimeLimitSeconds *int      `json:"timeLimitSeconds,omitempty"`
}

type ParagraphExtendedResponseData struct {
	AdditionalContent string `json:"additionalContent"`
}

type ProgressUpdateResponseData struct {
	ParticipantID string `json:"participantId"`
	Progress      int    `json:"progress"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
	Errors        int    `json:"errors"`
}

type ParticipantFinishedResponseData struct {
	ParticipantID string `json:"participantId"`
	Position      int    `json:"position"`
	WPM           int    `json:"wpm"`
	Accuracy      int    `json:"accuracy"`
}

type RaceFinishedResponseData struct {
	Results []ResultData `json:"results"`
}

type ParticipantLeftResponseData struct {
	ParticipantID string `json:"participantId"`
	Username      string `json:"username,omitempty"`
}

type HostChangedResponseData struct {
	NewHostParticipantID string `json:"newHostParticipantId"`
	NewHostUsername      string `json:"newHostUsername,omitempty"`
}

type RoomLockChangedResponseData struct {
	IsLocked bool `json:"isLocked"`
}

type KickedResponseData struct {
	Message string `json:"message"`
}

type PlayerKickedResponseData struct {
	ParticipantID string `json:"participantId"`
	Username      string `json:"username,omitempty"`
}

type ChatResponseData struct {
	ParticipantID string    `json:"participantId"`
	Username      string    `json:"username"`
	Content       string    `json:"content"`
	SentAt        time.Time `json:"sentAt"`
}

type RematchAvailableResponseData struct {
	NewRaceID string `json:"newRaceId"`
	RoomCode  string `json:"roomCode"`
	CreatedBy string `json:"createdBy"`
}

// CreateRaceRequest is the REST body used to create a race before the
// live websocket session engages.
type CreateRaceRequest struct {
	MaxPlayers       int  `json:"maxPlayers,omitempty"`
	Timed            bool `json:"timed,omitempty"`
	TimeLimitSeconds int  `json:"timeLimitSeconds,omitempty"`
}

type CreateRaceResponse struct {
	RaceID   string `json:"raceId"`
	RoomCode string `json:"roomCode"`
}

// RaceSnapshot is the REST resync representation served on page load
// and used as a fallback when finished state is detected without
// participant data present.
type RaceSnapshot struct {
	Race              RaceData          `json:"race"`
	Participants      []ParticipantData `json:"participants"`
	HostParticipantID string            `json:"hostParticipantId,omitempty"`
	Results           []ResultData      `json:"results,omitempty"`
}
