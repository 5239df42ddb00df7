// Package types is the websocket wire format.
//
// Client -> Server frames are {"type": ..., "data": {...}}:
//
//	join:      {nickname}
//	vote:      {round_number, pair_index, item_id}
//	start:     {}
//	heartbeat: {}            answered with heartbeat_ack
//	sync:      {}            answered with a fresh snapshot
//
// Server -> Client frames are {"type": ..., "seq": n, "data": {...}}. Event
// frames use the event kind as type; replies to a client frame use
// joined, vote_accepted, started or error.
package types

import (
	"encoding/json"

	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

const (
	TypeJoin      = "join"
	TypeVote      = "vote"
	TypeStart     = "start"
	TypeHeartbeat = "heartbeat"
	TypeSync      = "sync"

	TypeJoined       = "joined"
	TypeVoteAccepted = "vote_accepted"
	TypeStarted      = "started"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeError        = "error"
)

type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinData struct {
	Nickname string `json:"nickname"`
}

type VoteData struct {
	RoundNumber int    `json:"round_number"`
	PairIndex   int    `json:"pair_index"`
	ItemID      string `json:"item_id"`
}

// Decode unmarshals Data into v. Missing data decodes as an empty object.
func (m ClientMessage) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return gameerr.New(gameerr.ErrInvalidInput, "bad %s payload: %v", m.Type, err)
	}
	return nil
}

type ServerMessage struct {
	Type  string     `json:"type"`
	Seq   uint64     `json:"seq"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func FromEnvelope(env events.Envelope) ServerMessage {
	return ServerMessage{Type: string(env.Event.Kind()), Seq: env.Seq, Data: env.Event}
}

func Reply(typ string, seq uint64, data any) ServerMessage {
	return ServerMessage{Type: typ, Seq: seq, Data: data}
}

func ErrorMessage(seq uint64, err error) ServerMessage {
	return ServerMessage{Type: TypeError, Seq: seq, Error: &ErrorBody{Code: gameerr.Code(err), Message: err.Error()}}
}
