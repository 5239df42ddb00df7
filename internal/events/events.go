// Package events is the closed set of notifications a session publishes to
// its subscribers. Every kind has its own payload type; switch on the
// concrete type to handle them exhaustively.
package events

import (
	"time"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
)

type Kind string

const (
	KindSnapshot          Kind = "snapshot"
	KindPlayerJoined      Kind = "player_joined"
	KindPlayerLeft        Kind = "player_left"
	KindPlayerReconnected Kind = "player_reconnected"
	KindGameStarted       Kind = "game_started"
	KindNextPair          Kind = "next_pair"
	KindVoteUpdate        Kind = "vote_update"
	KindPairResolved      Kind = "pair_resolved"
	KindRoundComplete     Kind = "round_complete"
	KindGameComplete      Kind = "game_complete"
	KindGameCancelled     Kind = "game_cancelled"
)

type Event interface {
	Kind() Kind
	isEvent()
}

// Envelope is an event stamped with its position in the session's stream.
// A snapshot carries the sequence number of the last event it reflects.
type Envelope struct {
	Seq   uint64
	Event Event
}

type ItemView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageRef string `json:"image_ref,omitempty"`
}

type PlayerView struct {
	ID          string    `json:"id"`
	Nickname    string    `json:"nickname"`
	IsOrganizer bool      `json:"is_organizer"`
	Spectator   bool      `json:"spectator,omitempty"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joined_at"`
}

type PairView struct {
	RoundNumber int       `json:"round_number"`
	PairIndex   int       `json:"pair_index"`
	Item1       *ItemView `json:"item1,omitempty"`
	Item2       *ItemView `json:"item2,omitempty"`
	Winner      string    `json:"winner,omitempty"`
	Bye         bool      `json:"bye,omitempty"`
}

type RoundView struct {
	RoundNumber int        `json:"round_number"`
	Pairs       []PairView `json:"pairs"`
}

type BracketView struct {
	TotalRounds int         `json:"total_rounds"`
	Rounds      []RoundView `json:"rounds"`
}

// Snapshot is the full current view of a session, handed to a subscriber
// when it joins the stream.
type Snapshot struct {
	Code            string         `json:"code"`
	SessionID       string         `json:"session_id"`
	Status          string         `json:"status"`
	CompetitionID   string         `json:"competition_id"`
	CompetitionName string         `json:"competition_name"`
	OrganizerID     string         `json:"organizer_id"`
	Players         []PlayerView   `json:"players"`
	TotalRounds     int            `json:"total_rounds"`
	RoundNumber     int            `json:"round_number"`
	PairIndex       int            `json:"pair_index"`
	CurrentPair     *NextPair      `json:"current_pair,omitempty"`
	Counts          map[string]int `json:"vote_counts,omitempty"`
	Voters          int            `json:"voters_count"`
	Bracket         *BracketView   `json:"bracket,omitempty"`
	Winner          *ItemView      `json:"winner,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type PlayerJoined struct {
	Player PlayerView `json:"player"`
}

type PlayerLeft struct {
	PlayerID string `json:"player_id"`
}

type PlayerReconnected struct {
	PlayerID string `json:"player_id"`
}

type GameStarted struct {
	TotalRounds int `json:"total_rounds"`
	TotalItems  int `json:"total_items"`
}

type NextPair struct {
	RoundNumber int      `json:"round_number"`
	PairIndex   int      `json:"pair_index"`
	TotalPairs  int      `json:"total_pairs"`
	Item1       ItemView `json:"item1"`
	Item2       ItemView `json:"item2"`
}

type VoteUpdate struct {
	bracket.PairKey
	Counts      map[string]int `json:"vote_counts"`
	TotalVotes  int            `json:"total_votes"`
	VotersCount int            `json:"voters_count"`
}

type PairResolved struct {
	bracket.PairKey
	Winner   string         `json:"winner"`
	Counts   map[string]int `json:"vote_counts,omitempty"`
	Bye      bool           `json:"bye,omitempty"`
	TimedOut bool           `json:"timed_out,omitempty"`
}

type RoundComplete struct {
	RoundNumber       int      `json:"round_number"`
	Winners           []string `json:"winners"`
	NextRoundStarting bool     `json:"next_round_starting"`
}

type GameComplete struct {
	Winner          ItemView    `json:"winner"`
	TotalRounds     int         `json:"total_rounds"`
	TotalVotes      int         `json:"total_votes"`
	DurationSeconds float64     `json:"duration_seconds"`
	Bracket         BracketView `json:"bracket"`
}

type GameCancelled struct {
	Reason string `json:"reason"`
}

func (Snapshot) Kind() Kind          { return KindSnapshot }
func (PlayerJoined) Kind() Kind      { return KindPlayerJoined }
func (PlayerLeft) Kind() Kind        { return KindPlayerLeft }
func (PlayerReconnected) Kind() Kind { return KindPlayerReconnected }
func (GameStarted) Kind() Kind       { return KindGameStarted }
func (NextPair) Kind() Kind          { return KindNextPair }
func (VoteUpdate) Kind() Kind        { return KindVoteUpdate }
func (PairResolved) Kind() Kind      { return KindPairResolved }
func (RoundComplete) Kind() Kind     { return KindRoundComplete }
func (GameComplete) Kind() Kind      { return KindGameComplete }
func (GameCancelled) Kind() Kind     { return KindGameCancelled }

func (Snapshot) isEvent()          {}
func (PlayerJoined) isEvent()      {}
func (PlayerLeft) isEvent()        {}
func (PlayerReconnected) isEvent() {}
func (GameStarted) isEvent()       {}
func (NextPair) isEvent()          {}
func (VoteUpdate) isEvent()        {}
func (PairResolved) isEvent()      {}
func (RoundComplete) isEvent()     {}
func (GameComplete) isEvent()      {}
func (GameCancelled) isEvent()     {}

// Terminal reports whether no further events follow ev in its stream.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case GameComplete, GameCancelled:
		return true
	}
	return false
}

// Result is the archived outcome of a completed session.
type Result struct {
	Code            string      `json:"code"`
	SessionID       string      `json:"session_id"`
	CompetitionID   string      `json:"competition_id"`
	CompetitionName string      `json:"competition_name"`
	Winner          ItemView    `json:"winner"`
	TotalRounds     int         `json:"total_rounds"`
	TotalVotes      int         `json:"total_votes"`
	DurationSeconds float64     `json:"duration_seconds"`
	Bracket         BracketView `json:"bracket"`
	Players         int         `json:"players"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
}
