// Package client is a small typed websocket client for the race
// protocol, used by functional tests and command line tooling.
package client

import (
	"encoding/json"
	"time"

	"github.com/amarcoder01/typemaster-race/api"

	"github.com/gorilla/websocket"
)

type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func NewClient(conn *websocket.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		timeout: timeout,
	}
}

func (c *Client) Close() {
	c.conn.Close()
}

// CloseNormal performs a clean closure handshake start.
func (c *Client) CloseNormal() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// Send writes a request without waiting for any response.
func (c *Client) Send(req api.Request[any]) error {
	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(req)
}

func (c *Client) sendCmd(req api.Request[any]) (api.Response[json.RawMessage], error) {
	if err := c.Send(req); err != nil {
		return api.Response[json.RawMessage]{}, err
	}
	return c.ReadResponse()
}

func (c *Client) ReadResponse() (api.Response[json.RawMessage], error) {
	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return api.Response[json.RawMessage]{}, err
		}
	}
	res := api.Response[json.RawMessage]{}
	err := c.conn.ReadJSON(&res)
	return res, err
}

func (c *Client) Join(raceID, username string) (api.Response[json.RawMessage], error) {
	return c.sendCmd(api.Request[any]{
		Type: api.RequestTypeJoin,
		Data: api.JoinRequestData{
			RaceID:   raceID,
			Username: username,
		},
	})
}

func (c *Client) Rejoin(token string) (api.Response[json.RawMessage], error) {
	return c.sendCmd(api.Request[any]{
		Type: api.RequestTypeJoin,
		Data: api.JoinRequestData{
			RejoinToken: token,
		},
	})
}

func (c *Client) ToggleReady(raceID, participantID string) (api.Response[json.RawMessage], error) {
	return c.sendCmd(api.Request[any]{
		Type: api.RequestTypeReadyToggle,
		Data: api.ReadyToggleRequestData{
			RaceID:        raceID,
			ParticipantID: participantID,
		},
	})
}

func (c *Client) StartRace(raceID, participantID string) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeStartRace,
		Data: api.StartRaceRequestData{
			RaceID:        raceID,
			ParticipantID: participantID,
		},
	})
}

func (c *Client) Progress(data api.ProgressRequestData) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeProgress,
		Data: data,
	})
}

func (c *Client) ExtendParagraph(raceID, participantID string) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeExtendParagraph,
		Data: api.ExtendParagraphRequestData{
			RaceID:        raceID,
			ParticipantID: participantID,
		},
	})
}

func (c *Client) Finish(data api.FinishRequestData) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeFinish,
		Data: data,
	})
}

func (c *Client) TimedFinish(data api.TimedFinishRequestData) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeTimedFinish,
		Data: data,
	})
}

func (c *Client) Leave(data api.LeaveRequestData) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeLeave,
		Data: data,
	})
}

func (c *Client) Chat(raceID, participantID, content string) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeChat,
		Data: api.ChatRequestData{
			RaceID:        raceID,
			ParticipantID: participantID,
			Content:       content,
		},
	})
}

func (c *Client) Kick(raceID, participantID, targetID string) error {
	return c.Send(api.Request[any]{
		Type: api.RequestTypeKickPlayer,
		Data: api.KickPlayerRequestData{
			RaceID:              raceID,
			ParticipantID:       participantID,
			TargetParticipantID: targetID,
		},
	})
}

func (c *Client) LockRoom(raceID, participantID string, locked bool) (api.Response[json.RawMessage], error) {
	return c.sendCmd(api.Request[any]{
		Type: api.RequestTypeLockRoom,
		Data: api.LockRoomRequestData{
			RaceID:        raceID,
			ParticipantID: participantID,
			Locked:        locked,
		},
	})
}

func (c *Client) Rematch(raceID, participantID, username string) (api.Response[json.RawMessage], error) {
	return c.sendCmd(api.Request[any]{
		Type: api.RequestTypeRematch,
		Data: api.RematchRequestData{
			RaceID:        raceID,
			ParticipantID: participantID,
			Username:      username,
		},
	})
}
