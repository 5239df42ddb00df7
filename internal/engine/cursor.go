package engine

import (
	"time"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
)

func (s *State) currentKey() bracket.PairKey {
	return bracket.PairKey{Round: s.Round, Index: s.PairIndex}
}

// CurrentPair returns the pair open for voting, if any.
func (s *State) CurrentPair() (bracket.Pair, bool) {
	if s.Status != StatusInProgress || s.Bracket == nil {
		return bracket.Pair{}, false
	}
	return s.Bracket.Pair(s.currentKey())
}

// openPair moves the cursor onto the next votable pair of the current round,
// passing over byes. An exhausted round is completed.
func (s *State) openPair(at time.Time, out *Outcome) error {
	round, _ := s.Bracket.Round(s.Round)
	for s.PairIndex < len(round.Pairs) {
		p := round.Pairs[s.PairIndex]
		if p.Bye() {
			out.emit(events.PairResolved{PairKey: p.Key(), Winner: p.Winner, Bye: true})
			s.PairIndex++
			continue
		}
		if err := s.Votes.Open(p); err != nil {
			return err
		}
		out.emit(events.NextPair{
			RoundNumber: p.Round,
			PairIndex:   p.Index,
			TotalPairs:  len(round.Pairs),
			Item1:       s.itemView(p.Item1),
			Item2:       s.itemView(p.Item2),
		})
		if s.Rules.PairTimeout > 0 {
			out.Timer = &Timer{Kind: TimerPair, After: s.Rules.PairTimeout, Pair: p.Key()}
		}
		return nil
	}
	return s.completeRound(at, out)
}

// tryResolve decides the current pair if its trigger condition holds and
// advances the cursor.
func (s *State) tryResolve(at time.Time, force bool, out *Outcome) error {
	k := s.currentKey()
	winner, ok, err := s.Votes.Resolve(k, s.eligibleVoterIDs(), force)
	if err != nil || !ok {
		return err
	}
	if err := s.Bracket.SetWinner(k, winner); err != nil {
		return err
	}
	counts, _ := s.Votes.Counts(k)

	out.CancelTimer = true
	out.emit(events.PairResolved{PairKey: k, Winner: winner, Counts: counts, TimedOut: force})
	s.PairIndex++
	return s.openPair(at, out)
}

func (s *State) completeRound(at time.Time, out *Outcome) error {
	winners, _ := s.Bracket.Winners(s.Round)
	final := s.Round == s.Bracket.TotalRounds()

	s.Status = StatusRoundTransition
	out.emit(events.RoundComplete{RoundNumber: s.Round, Winners: winners, NextRoundStarting: !final})
	if final {
		s.finish(at, out)
		return nil
	}
	if err := s.Bracket.SeedNext(s.Round); err != nil {
		return err
	}
	out.Timer = &Timer{Kind: TimerRound, After: s.Rules.RoundDwell, Pair: bracket.PairKey{Round: s.Round}}
	return nil
}

func (s *State) finish(at time.Time, out *Outcome) {
	s.Status = StatusComplete
	s.FinishedAt = at
	s.Winner, _ = s.Bracket.Champion()

	out.Timer = nil
	out.CancelTimer = true
	out.Finished = true
	out.emit(events.GameComplete{
		Winner:          s.itemView(s.Winner),
		TotalRounds:     s.Bracket.TotalRounds(),
		TotalVotes:      s.Votes.Total(),
		DurationSeconds: s.duration().Seconds(),
		Bracket:         s.bracketView(),
	})
}

func (s *State) duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
