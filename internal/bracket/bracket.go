// Package bracket builds and advances single-elimination pairing schedules.
//
// Pairing is positional: in every round the item at position 2k meets the
// item at 2k+1. When a round has an odd number of items the last one gets a
// bye, stored as a pair with an empty Item2 and its Winner preset to Item1.
package bracket

import (
	"math/rand"

	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

// PairKey addresses a pair. Rounds are numbered from 1, pairs from 0.
type PairKey struct {
	Round int `json:"round_number"`
	Index int `json:"pair_index"`
}

type Pair struct {
	Round  int
	Index  int
	Item1  string
	Item2  string
	Winner string
}

func (p Pair) Key() PairKey { return PairKey{Round: p.Round, Index: p.Index} }
func (p Pair) Bye() bool { return p.Item1 != "" && p.Item2 == "" }
func (p Pair) Resolved() bool { return p.Winner != "" }
func (p Pair) Seeded() bool { return p.Item1 != "" }
func (p Pair) Has(id string) bool {
	return id != "" && (id == p.Item1 || id == p.Item2)
}

type Round struct {
	Number int
	Pairs  []Pair
}

// Bracket is the full schedule. Rounds after the first are created as
// placeholders and seeded from the previous round's winners by SeedNext.
type Bracket struct {
	Entrants []string
	Rounds   []Round
}

// RoundCount returns ceil(log2(n)), the number of rounds needed for n items.
func RoundCount(n int) int {
	rounds := 0
	for n > 1 {
		n = PairCount(n)
		rounds++
	}
	return rounds
}

// PairCount returns the number of pairs a round of m items is split into.
func PairCount(m int) int { return (m + 1) / 2 }

// Build creates the bracket for the given item ids in order.
func Build(ids []string) (*Bracket, error) {
	if len(ids) == 0 {
		return nil, gameerr.New(gameerr.ErrInvalidInput, "bracket needs at least one item")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, gameerr.New(gameerr.ErrInvalidInput, "empty item id")
		}
		if seen[id] {
			return nil, gameerr.New(gameerr.ErrInvalidInput, "duplicate item id %q", id)
		}
		seen[id] = true
	}

	b := &Bracket{Entrants: append([]string(nil), ids...)}
	count := len(ids)
	for r := 1; count > 1; r++ {
		round := Round{Number: r, Pairs: make([]Pair, PairCount(count))}
		for i := range round.Pairs {
			round.Pairs[i] = Pair{Round: r, Index: i}
		}
		b.Rounds = append(b.Rounds, round)
		count = len(round.Pairs)
	}
	if len(b.Rounds) > 0 {
		b.seed(1, b.Entrants)
	}
	return b, nil
}

// Shuffle returns a copy of ids permuted by seed. The same seed always
// yields the same order so a shuffled bracket can be re-derived.
func Shuffle(ids []string, seed int64) []string {
	out := append([]string(nil), ids...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (b *Bracket) seed(round int, items []string) {
	pairs := b.Rounds[round-1].Pairs
	for i := range pairs {
		p := &pairs[i]
		p.Item1 = items[2*i]
		p.Item2, p.Winner = "", ""
		if 2*i+1 < len(items) {
			p.Item2 = items[2*i+1]
		} else {
			p.Winner = p.Item1
		}
	}
}

func (b *Bracket) TotalRounds() int { return len(b.Rounds) }

func (b *Bracket) Round(n int) (Round, bool) {
	if n < 1 || n > len(b.Rounds) {
		return Round{}, false
	}
	return b.Rounds[n-1], true
}

func (b *Bracket) Pair(k PairKey) (Pair, bool) {
	p := b.pair(k)
	if p == nil {
		return Pair{}, false
	}
	return *p, true
}

func (b *Bracket) pair(k PairKey) *Pair {
	if k.Round < 1 || k.Round > len(b.Rounds) {
		return nil
	}
	pairs := b.Rounds[k.Round-1].Pairs
	if k.Index < 0 || k.Index >= len(pairs) {
		return nil
	}
	return &pairs[k.Index]
}

// SetWinner records the winner of a seeded, unresolved pair.
func (b *Bracket) SetWinner(k PairKey, itemID string) error {
	p := b.pair(k)
	if p == nil {
		return gameerr.New(gameerr.ErrNotFound, "pair %d/%d", k.Round, k.Index)
	}
	if !p.Seeded() {
		return gameerr.New(gameerr.ErrInvalidState, "pair %d/%d not seeded yet", k.Round, k.Index)
	}
	if p.Resolved() {
		return gameerr.New(gameerr.ErrInvalidState, "pair %d/%d already resolved", k.Round, k.Index)
	}
	if !p.Has(itemID) {
		return gameerr.New(gameerr.ErrInvalidInput, "item %q not in pair %d/%d", itemID, k.Round, k.Index)
	}
	p.Winner = itemID
	return nil
}

// Winners returns the winners of round n in pair order. ok is false until
// every pair in the round is resolved.
func (b *Bracket) Winners(n int) (winners []string, ok bool) {
	r, found := b.Round(n)
	if !found {
		return nil, false
	}
	winners = make([]string, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		if !p.Resolved() {
			return nil, false
		}
		winners = append(winners, p.Winner)
	}
	return winners, true
}

// SeedNext fills round n+1 with the winners of round n.
func (b *Bracket) SeedNext(n int) error {
	if n < 1 || n >= len(b.Rounds) {
		return gameerr.New(gameerr.ErrInvalidState, "round %d has no successor", n)
	}
	winners, ok := b.Winners(n)
	if !ok {
		return gameerr.New(gameerr.ErrInvalidState, "round %d is not resolved", n)
	}
	b.seed(n+1, winners)
	return nil
}

// Champion is the winner of the final pair, or the sole entrant of a
// one-item bracket.
func (b *Bracket) Champion() (string, bool) {
	if len(b.Rounds) == 0 {
		if len(b.Entrants) == 1 {
			return b.Entrants[0], true
		}
		return "", false
	}
	final := b.Rounds[len(b.Rounds)-1]
	if len(final.Pairs) != 1 || !final.Pairs[0].Resolved() {
		return "", false
	}
	return final.Pairs[0].Winner, true
}

// Clone returns a deep copy.
func (b *Bracket) Clone() *Bracket {
	out := &Bracket{
		Entrants: append([]string(nil), b.Entrants...),
		Rounds:   make([]Round, len(b.Rounds)),
	}
	for i, r := range b.Rounds {
		out.Rounds[i] = Round{Number: r.Number, Pairs: append([]Pair(nil), r.Pairs...)}
	}
	return out
}
