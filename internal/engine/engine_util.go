package engine

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

type Params struct {
	Code          string
	SessionID     string
	Competition   catalog.Competition
	OrganizerID   string
	OrganizerName string
	Rules         Rules
	Seed          int64
	At            time.Time
}

// NewState creates a session in the lobby with the organizer as its first
// player.
func NewState(p Params) (*State, error) {
	nick, err := cleanNickname(p.OrganizerName, p.Rules.NicknameMax)
	if err != nil {
		return nil, err
	}
	if p.OrganizerID == "" {
		return nil, gameerr.New(gameerr.ErrInvalidInput, "missing organizer id")
	}

	s := &State{
		Code:        p.Code,
		SessionID:   p.SessionID,
		Competition: p.Competition,
		Status:      StatusLobby,
		Rules:       p.Rules,
		OrganizerID: p.OrganizerID,
		Seed:        p.Seed,
		CreatedAt:   p.At,
		items:       make(map[string]catalog.Item, len(p.Competition.Items)),
	}
	for _, it := range p.Competition.Items {
		s.items[it.ID] = it
	}
	if _, err := bracket.Build(s.itemIDs()); err != nil {
		return nil, err
	}
	s.Players = []*Player{{
		ID:          p.OrganizerID,
		Nickname:    nick,
		IsOrganizer: true,
		JoinedAt:    p.At,
	}}
	return s, nil
}

func cleanNickname(raw string, limit int) (string, error) {
	nick := strings.TrimSpace(raw)
	if nick == "" {
		return "", gameerr.New(gameerr.ErrInvalidInput, "nickname is required")
	}
	if limit > 0 && utf8.RuneCountInString(nick) > limit {
		return "", gameerr.New(gameerr.ErrInvalidInput, "nickname longer than %d characters", limit)
	}
	return nick, nil
}

func (s *State) player(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Player returns a copy of the roster entry for id.
func (s *State) Player(id string) (Player, bool) {
	if p := s.player(id); p != nil {
		return *p, true
	}
	return Player{}, false
}

func (s *State) voterCount() int {
	n := 0
	for _, p := range s.Players {
		if !p.Spectator {
			n++
		}
	}
	return n
}

func (s *State) eligibleVoterIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if !p.Spectator && !p.Inert {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (s *State) itemIDs() []string {
	ids := make([]string, 0, len(s.Competition.Items))
	for _, it := range s.Competition.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

func (s *State) itemView(id string) events.ItemView {
	it, ok := s.items[id]
	if !ok {
		return events.ItemView{ID: id}
	}
	return events.ItemView{ID: it.ID, Name: it.Name, ImageRef: it.ImageRef}
}

func (s *State) itemRef(id string) *events.ItemView {
	if id == "" {
		return nil
	}
	v := s.itemView(id)
	return &v
}

func playerView(p *Player) events.PlayerView {
	return events.PlayerView{
		ID:          p.ID,
		Nickname:    p.Nickname,
		IsOrganizer: p.IsOrganizer,
		Spectator:   p.Spectator,
		Connected:   p.Connected,
		JoinedAt:    p.JoinedAt,
	}
}

func (s *State) PlayerViews() []events.PlayerView {
	out := make([]events.PlayerView, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, playerView(p))
	}
	return out
}

func (s *State) bracketView() events.BracketView {
	if s.Bracket == nil {
		return events.BracketView{}
	}
	v := events.BracketView{TotalRounds: s.Bracket.TotalRounds(), Rounds: make([]events.RoundView, 0, s.Bracket.TotalRounds())}
	for _, r := range s.Bracket.Rounds {
		rv := events.RoundView{RoundNumber: r.Number, Pairs: make([]events.PairView, 0, len(r.Pairs))}
		for _, p := range r.Pairs {
			rv.Pairs = append(rv.Pairs, events.PairView{
				RoundNumber: p.Round,
				PairIndex:   p.Index,
				Item1:       s.itemRef(p.Item1),
				Item2:       s.itemRef(p.Item2),
				Winner:      p.Winner,
				Bye:         p.Bye(),
			})
		}
		v.Rounds = append(v.Rounds, rv)
	}
	return v
}

// Snapshot is the view a subscriber converges to: roster, bracket progress,
// and the open pair with its live counts.
func Snapshot(s *State) events.Snapshot {
	snap := events.Snapshot{
		Code:            s.Code,
		SessionID:       s.SessionID,
		Status:          string(s.Status),
		CompetitionID:   s.Competition.ID,
		CompetitionName: s.Competition.Name,
		OrganizerID:     s.OrganizerID,
		Players:         s.PlayerViews(),
		RoundNumber:     s.Round,
		PairIndex:       s.PairIndex,
		CreatedAt:       s.CreatedAt,
	}
	if s.Bracket == nil {
		return snap
	}

	bv := s.bracketView()
	snap.Bracket = &bv
	snap.TotalRounds = bv.TotalRounds

	if p, ok := s.CurrentPair(); ok {
		round, _ := s.Bracket.Round(p.Round)
		snap.CurrentPair = &events.NextPair{
			RoundNumber: p.Round,
			PairIndex:   p.Index,
			TotalPairs:  len(round.Pairs),
			Item1:       s.itemView(p.Item1),
			Item2:       s.itemView(p.Item2),
		}
		snap.Counts, _ = s.Votes.Counts(p.Key())
		snap.Voters = s.Votes.Voters(p.Key())
	}
	if s.Status == StatusComplete && s.Winner != "" {
		snap.Winner = s.itemRef(s.Winner)
	}
	return snap
}

// Result summarizes a completed session.
func Result(s *State) (events.Result, bool) {
	if s.Status != StatusComplete {
		return events.Result{}, false
	}
	return events.Result{
		Code:            s.Code,
		SessionID:       s.SessionID,
		CompetitionID:   s.Competition.ID,
		CompetitionName: s.Competition.Name,
		Winner:          s.itemView(s.Winner),
		TotalRounds:     s.Bracket.TotalRounds(),
		TotalVotes:      s.Votes.Total(),
		DurationSeconds: s.duration().Seconds(),
		Bracket:         s.bracketView(),
		Players:         s.voterCount(),
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
	}, true
}
