// Package catalog is the read-only source of competitions and their items.
// Sessions snapshot a competition's item list at creation and never mutate it.
package catalog

import (
	"context"
	"sort"

	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

type Item struct {
	ID       string `json:"id" koanf:"id"`
	Name     string `json:"name" koanf:"name"`
	ImageRef string `json:"image_ref" koanf:"image_ref"`
}

type Competition struct {
	ID    string `json:"id" koanf:"id"`
	Name  string `json:"name" koanf:"name"`
	Items []Item `json:"items" koanf:"items"`
}

// Catalog is the collaborator interface consumed by session creation.
type Catalog interface {
	Competition(ctx context.Context, id string) (Competition, error)
	Competitions(ctx context.Context) ([]Competition, error)
}

// Memory is an in-process catalog, used for file-backed deployments and tests.
// It is immutable after construction.
type Memory struct {
	comps map[string]Competition
}

func NewMemory(comps ...Competition) *Memory {
	m := &Memory{comps: make(map[string]Competition, len(comps))}
	for _, c := range comps {
		m.comps[c.ID] = c
	}
	return m
}

func (m *Memory) Competition(_ context.Context, id string) (Competition, error) {
	c, ok := m.comps[id]
	if !ok {
		return Competition{}, gameerr.New(gameerr.ErrNotFound, "competition %q", id)
	}
	return cloneCompetition(c), nil
}

func (m *Memory) Competitions(_ context.Context) ([]Competition, error) {
	out := make([]Competition, 0, len(m.comps))
	for _, c := range m.comps {
		out = append(out, cloneCompetition(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneCompetition(c Competition) Competition {
	c.Items = append([]Item(nil), c.Items...)
	return c
}
