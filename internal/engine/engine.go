// Package engine is the session state machine. Apply is a pure transition
// function: callers serialize access to a State and act on the returned
// Outcome (publish events, arm timers).
package engine

import (
	"time"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/tally"
)

var (
	ErrUnsupportedCommand = gameerr.New(gameerr.ErrInvalidInput, "unsupported command")
	ErrGameFinished       = gameerr.New(gameerr.ErrInvalidState, "session has finished")
	ErrAlreadyStarted     = gameerr.New(gameerr.ErrInvalidState, "session already started")
	ErrVotingClosed       = gameerr.New(gameerr.ErrInvalidState, "voting is not open")
	ErrNotOrganizer       = gameerr.New(gameerr.ErrPreconditionFailed, "only the organizer can start the session")
	ErrSessionFull        = gameerr.New(gameerr.ErrPreconditionFailed, "session is full")
	ErrSpectatorVote      = gameerr.New(gameerr.ErrPreconditionFailed, "spectators cannot vote")
	ErrUnknownPlayer      = gameerr.New(gameerr.ErrNotFound, "player not in session")
)

type Status string

const (
	StatusLobby           Status = "lobby"
	StatusInProgress      Status = "in_progress"
	StatusRoundTransition Status = "round_transition"
	StatusComplete        Status = "complete"
	StatusAbandoned       Status = "abandoned"
)

func (s Status) Terminal() bool { return s == StatusComplete || s == StatusAbandoned }

type Player struct {
	ID          string
	Nickname    string
	IsOrganizer bool
	JoinedAt    time.Time
	Spectator   bool
	// Connected is true while at least one live stream is bound to the player.
	Connected bool
	// Inert players lost their last stream. They stay on the roster and keep
	// their votes but are not waited for when resolving a pair.
	Inert bool
}

type Rules struct {
	MinPlayers      int
	MaxPlayers      int
	NicknameMax     int
	AllowSpectators bool
	ShuffleItems    bool
	PairTimeout     time.Duration
	RoundDwell      time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MinPlayers:  2,
		MaxPlayers:  100,
		NicknameMax: 32,
		PairTimeout: 60 * time.Second,
		RoundDwell:  3 * time.Second,
	}
}

type State struct {
	Code        string
	SessionID   string
	Competition catalog.Competition
	Status      Status
	Rules       Rules
	OrganizerID string
	Players     []*Player
	Bracket     *bracket.Bracket
	Votes       *tally.Ledger
	Round       int
	PairIndex   int
	Seed        int64
	CreatedAt   time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Winner      string

	items map[string]catalog.Item
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdStart        CommandType = "Start"
	CmdVote         CommandType = "Vote"
	CmdPairTimeout  CommandType = "PairTimeout"
	CmdAdvanceRound CommandType = "AdvanceRound"
	CmdSetPresence  CommandType = "SetPresence"
	CmdAbandon      CommandType = "Abandon"
)

/*
	CmdJoin         -> player_joined
	CmdStart        -> game_started -> next_pair
	CmdVote         -> vote_update [-> pair_resolved -> next_pair | round_complete [-> game_complete]]
	CmdPairTimeout  -> pair_resolved -> ...
	CmdAdvanceRound -> next_pair
	CmdSetPresence  -> player_left | player_reconnected [-> pair_resolved -> ...]
	CmdAbandon      -> game_cancelled
*/

type Command struct {
	Type      CommandType
	PlayerID  string
	Nickname  string
	Pair      bracket.PairKey
	ItemID    string
	Connected bool
	Reason    string
	At        time.Time
}

type TimerKind int

const (
	TimerNone TimerKind = iota
	TimerPair
	TimerRound
)

// Timer asks the caller to deliver a CmdPairTimeout (TimerPair) or
// CmdAdvanceRound (TimerRound) carrying Pair after the given delay.
type Timer struct {
	Kind  TimerKind
	After time.Duration
	Pair  bracket.PairKey
}

type Outcome struct {
	Events []events.Event
	Player *Player
	Vote   *tally.Result
	// Timer replaces any pending timer. CancelTimer alone clears it.
	Timer       *Timer
	CancelTimer bool
	Finished    bool
}

func (o *Outcome) emit(ev events.Event) { o.Events = append(o.Events, ev) }

// Apply runs cmd against s. On error s is left unchanged.
func Apply(s *State, cmd Command) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch cmd.Type {
	case CmdJoin:
		err = join(s, cmd, &out)
	case CmdStart:
		err = start(s, cmd, &out)
	case CmdVote:
		err = vote(s, cmd, &out)
	case CmdPairTimeout:
		err = pairTimeout(s, cmd, &out)
	case CmdAdvanceRound:
		err = advanceRound(s, cmd, &out)
	case CmdSetPresence:
		err = setPresence(s, cmd, &out)
	case CmdAbandon:
		err = abandon(s, cmd, &out)
	default:
		return Outcome{}, ErrUnsupportedCommand
	}
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func join(s *State, cmd Command, out *Outcome) error {
	nick, err := cleanNickname(cmd.Nickname, s.Rules.NicknameMax)
	if err != nil {
		return err
	}
	if cmd.PlayerID == "" {
		return gameerr.New(gameerr.ErrInvalidInput, "missing player id")
	}
	if s.player(cmd.PlayerID) != nil {
		return gameerr.New(gameerr.ErrConflict, "player %q already joined", cmd.PlayerID)
	}

	spectator := false
	switch s.Status {
	case StatusLobby:
	case StatusInProgress, StatusRoundTransition:
		if !s.Rules.AllowSpectators {
			return ErrAlreadyStarted
		}
		spectator = true
	default:
		return ErrGameFinished
	}
	// spectators hold a connection and a roster slot too
	if s.Rules.MaxPlayers > 0 && len(s.Players) >= s.Rules.MaxPlayers {
		return ErrSessionFull
	}

	p := &Player{ID: cmd.PlayerID, Nickname: nick, JoinedAt: cmd.At, Spectator: spectator}
	s.Players = append(s.Players, p)

	cp := *p
	out.Player = &cp
	out.emit(events.PlayerJoined{Player: playerView(p)})
	return nil
}

func start(s *State, cmd Command, out *Outcome) error {
	if s.Status != StatusLobby {
		if s.Status.Terminal() {
			return ErrGameFinished
		}
		return ErrAlreadyStarted
	}
	if cmd.PlayerID != "" {
		p := s.player(cmd.PlayerID)
		if p == nil {
			return ErrUnknownPlayer
		}
		if !p.IsOrganizer {
			return ErrNotOrganizer
		}
	}
	if n := s.voterCount(); n < s.Rules.MinPlayers {
		return gameerr.New(gameerr.ErrPreconditionFailed, "need at least %d players, have %d", s.Rules.MinPlayers, n)
	}

	ids := s.itemIDs()
	if s.Rules.ShuffleItems {
		ids = bracket.Shuffle(ids, s.Seed)
	}
	b, err := bracket.Build(ids)
	if err != nil {
		return err
	}

	s.Bracket = b
	s.Votes = tally.NewLedger()
	s.Status = StatusInProgress
	s.StartedAt = cmd.At
	s.Round, s.PairIndex = 1, 0

	out.emit(events.GameStarted{TotalRounds: b.TotalRounds(), TotalItems: len(ids)})
	if b.TotalRounds() == 0 {
		s.finish(cmd.At, out)
		return nil
	}
	return s.openPair(cmd.At, out)
}

func vote(s *State, cmd Command, out *Outcome) error {
	if s.Status != StatusInProgress {
		if s.Status.Terminal() {
			return ErrGameFinished
		}
		return ErrVotingClosed
	}
	p := s.player(cmd.PlayerID)
	if p == nil {
		return ErrUnknownPlayer
	}
	if p.Spectator {
		return ErrSpectatorVote
	}

	k := cmd.Pair
	pair, ok := s.Bracket.Pair(k)
	if !ok {
		return gameerr.New(gameerr.ErrNotFound, "pair %d/%d", k.Round, k.Index)
	}
	if pair.Resolved() {
		return gameerr.New(gameerr.ErrInvalidState, "pair %d/%d already resolved", k.Round, k.Index)
	}
	if k != s.currentKey() {
		return gameerr.New(gameerr.ErrInvalidState, "pair %d/%d is not open for voting", k.Round, k.Index)
	}
	if !pair.Has(cmd.ItemID) {
		return gameerr.New(gameerr.ErrInvalidInput, "item %q not in pair %d/%d", cmd.ItemID, k.Round, k.Index)
	}

	res, err := s.Votes.RecordVote(k, p.ID, cmd.ItemID)
	if err != nil {
		return err
	}
	out.Vote = &res
	if res.Outcome == tally.Unchanged {
		return nil
	}

	out.emit(events.VoteUpdate{
		PairKey:     k,
		Counts:      res.Counts,
		TotalVotes:  s.Votes.Voters(k),
		VotersCount: len(s.eligibleVoterIDs()),
	})
	return s.tryResolve(cmd.At, false, out)
}

func pairTimeout(s *State, cmd Command, out *Outcome) error {
	if s.Status != StatusInProgress || cmd.Pair != s.currentKey() {
		return gameerr.New(gameerr.ErrInvalidState, "stale pair timeout %d/%d", cmd.Pair.Round, cmd.Pair.Index)
	}
	return s.tryResolve(cmd.At, true, out)
}

func advanceRound(s *State, cmd Command, out *Outcome) error {
	if s.Status != StatusRoundTransition || cmd.Pair.Round != s.Round {
		return gameerr.New(gameerr.ErrInvalidState, "stale round advance %d", cmd.Pair.Round)
	}
	s.Round++
	s.PairIndex = 0
	s.Status = StatusInProgress
	return s.openPair(cmd.At, out)
}

func setPresence(s *State, cmd Command, out *Outcome) error {
	p := s.player(cmd.PlayerID)
	if p == nil {
		return ErrUnknownPlayer
	}
	quiet := s.Status.Terminal()

	if cmd.Connected {
		p.Connected = true
		if p.Inert {
			p.Inert = false
			if !quiet {
				out.emit(events.PlayerReconnected{PlayerID: p.ID})
			}
		}
		return nil
	}

	if p.Inert {
		return nil
	}
	p.Connected = false
	p.Inert = true
	if quiet {
		return nil
	}
	out.emit(events.PlayerLeft{PlayerID: p.ID})
	if s.Status == StatusInProgress {
		return s.tryResolve(cmd.At, false, out)
	}
	return nil
}

func abandon(s *State, cmd Command, out *Outcome) error {
	if s.Status.Terminal() {
		return ErrGameFinished
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "abandoned"
	}
	s.Status = StatusAbandoned
	s.FinishedAt = cmd.At
	out.CancelTimer = true
	out.Finished = true
	out.emit(events.GameCancelled{Reason: reason})
	return nil
}
