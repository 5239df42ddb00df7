// Package archive keeps results of completed sessions in a local bolt file
// so they survive eviction from the registry and process restarts.
package archive

import (
	"context"
	"errors"

	"github.com/asdine/storm"
	"github.com/asdine/storm/q"

	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

type record struct {
	Code          string `storm:"id"`
	CompetitionID string `storm:"index"`
	FinishedAt    int64 // unix nanos, used for ordering
	Result        events.Result
}

type Store struct {
	db *storm.DB
}

func Open(path string) (*Store, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save stores r under its session code, replacing an earlier result for the
// same code.
func (s *Store) Save(_ context.Context, r events.Result) error {
	if r.Code == "" {
		return gameerr.New(gameerr.ErrInvalidInput, "result without session code")
	}
	return s.db.Save(&record{
		Code:          r.Code,
		CompetitionID: r.CompetitionID,
		FinishedAt:    r.FinishedAt.UnixNano(),
		Result:        r,
	})
}

func (s *Store) Get(_ context.Context, code string) (events.Result, error) {
	var rec record
	if err := s.db.One("Code", code, &rec); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return events.Result{}, gameerr.New(gameerr.ErrNotFound, "no archived result for %q", code)
		}
		return events.Result{}, err
	}
	return rec.Result, nil
}

// ByCompetition lists archived results for a competition, newest first.
func (s *Store) ByCompetition(_ context.Context, competitionID string, limit int) ([]events.Result, error) {
	var recs []record
	query := s.db.Select(q.Eq("CompetitionID", competitionID)).OrderBy("FinishedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs); err != nil && !errors.Is(err, storm.ErrNotFound) {
		return nil, err
	}
	out := make([]events.Result, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Result)
	}
	return out, nil
}
