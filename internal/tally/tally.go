// Package tally aggregates votes per pair.
//
// Each pair keeps a map from player id to chosen item. Counts are always
// derived from that map, so a player can never be counted twice and a
// revote replaces the earlier choice.
package tally

import (
	"sync"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

// Outcome classifies an accepted vote.
type Outcome int

const (
	Recorded  Outcome = iota + 1 // first vote by this player on the pair
	Changed                      // player switched to the other item
	Unchanged                    // duplicate of the vote already counted
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

type Result struct {
	Accepted bool
	Outcome  Outcome
	Counts   map[string]int
}

type pairTally struct {
	item1, item2 string
	votes        map[string]string
	winner       string
}

func (p *pairTally) counts() map[string]int {
	c := map[string]int{p.item1: 0, p.item2: 0}
	for _, item := range p.votes {
		c[item]++
	}
	return c
}

// Ledger holds the tallies of every pair opened in a session. It is safe for
// concurrent use.
type Ledger struct {
	mu    sync.Mutex
	pairs map[bracket.PairKey]*pairTally
}

func NewLedger() *Ledger {
	return &Ledger{pairs: make(map[bracket.PairKey]*pairTally)}
}

// Open starts collecting votes for a seeded, non-bye pair. Opening a pair
// twice keeps the existing votes.
func (l *Ledger) Open(p bracket.Pair) error {
	if !p.Seeded() || p.Bye() {
		return gameerr.New(gameerr.ErrInvalidInput, "pair %d/%d is not votable", p.Round, p.Index)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pairs[p.Key()]; !ok {
		l.pairs[p.Key()] = &pairTally{item1: p.Item1, item2: p.Item2, votes: make(map[string]string)}
	}
	return nil
}

// RecordVote inserts or overwrites playerID's choice for the pair.
func (l *Ledger) RecordVote(k bracket.PairKey, playerID, itemID string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pairs[k]
	if !ok {
		return Result{}, gameerr.New(gameerr.ErrNotFound, "no open tally for pair %d/%d", k.Round, k.Index)
	}
	if p.winner != "" {
		return Result{}, gameerr.New(gameerr.ErrInvalidState, "pair %d/%d already resolved", k.Round, k.Index)
	}
	if playerID == "" {
		return Result{}, gameerr.New(gameerr.ErrInvalidInput, "missing player id")
	}
	if itemID != p.item1 && itemID != p.item2 {
		return Result{}, gameerr.New(gameerr.ErrInvalidInput, "item %q not in pair %d/%d", itemID, k.Round, k.Index)
	}

	outcome := Recorded
	if prev, voted := p.votes[playerID]; voted {
		outcome = Changed
		if prev == itemID {
			outcome = Unchanged
		}
	}
	p.votes[playerID] = itemID
	return Result{Accepted: true, Outcome: outcome, Counts: p.counts()}, nil
}

// Resolve decides the pair once every eligible player has voted, or
// unconditionally when force is set (pair timeout). Equal counts go to
// item1. An empty eligible set only resolves when forced.
func (l *Ledger) Resolve(k bracket.PairKey, eligible []string, force bool) (winner string, resolved bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pairs[k]
	if !ok {
		return "", false, gameerr.New(gameerr.ErrNotFound, "no open tally for pair %d/%d", k.Round, k.Index)
	}
	if p.winner != "" {
		return p.winner, true, nil
	}
	if !force {
		if len(eligible) == 0 {
			return "", false, nil
		}
		for _, id := range eligible {
			if _, voted := p.votes[id]; !voted {
				return "", false, nil
			}
		}
	}

	c := p.counts()
	p.winner = p.item1
	if c[p.item2] > c[p.item1] {
		p.winner = p.item2
	}
	return p.winner, true, nil
}

func (l *Ledger) Counts(k bracket.PairKey) (map[string]int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pairs[k]
	if !ok {
		return nil, false
	}
	return p.counts(), true
}

// Voters returns how many distinct players voted on the pair.
func (l *Ledger) Voters(k bracket.PairKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pairs[k]; ok {
		return len(p.votes)
	}
	return 0
}

// Total is the number of effective votes across all pairs.
func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.pairs {
		n += len(p.votes)
	}
	return n
}
