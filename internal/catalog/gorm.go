package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
)

type competitionRow struct {
	ID    string    `gorm:"primaryKey"`
	Name  string    `gorm:"not null"`
	Items []itemRow `gorm:"foreignKey:CompetitionID"`
}

func (competitionRow) TableName() string { return "competitions" }

type itemRow struct {
	ID            string `gorm:"primaryKey"`
	CompetitionID string `gorm:"primaryKey;index"`
	Name          string `gorm:"not null"`
	ImageRef      string
	Position      int `gorm:"not null;default:0"`
}

func (itemRow) TableName() string { return "competition_items" }

// Gorm serves competitions from a SQL database.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

// OpenPostgres connects to dsn and migrates the catalog tables.
func OpenPostgres(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect catalog db: %w", err)
	}
	if err := db.AutoMigrate(&competitionRow{}, &itemRow{}); err != nil {
		return nil, fmt.Errorf("migrate catalog db: %w", err)
	}
	return NewGorm(db), nil
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (g *Gorm) Competition(ctx context.Context, id string) (Competition, error) {
	var row competitionRow
	err := g.db.WithContext(ctx).
		Preload("Items", orderedItems).
		First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Competition{}, gameerr.New(gameerr.ErrNotFound, "competition %q", id)
	}
	if err != nil {
		return Competition{}, err
	}
	return row.toCompetition(), nil
}

func (g *Gorm) Competitions(ctx context.Context) ([]Competition, error) {
	var rows []competitionRow
	err := g.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Competition, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCompetition())
	}
	return out, nil
}

func (r competitionRow) toCompetition() Competition {
	c := Competition{ID: r.ID, Name: r.Name, Items: make([]Item, 0, len(r.Items))}
	for _, it := range r.Items {
		c.Items = append(c.Items, Item{ID: it.ID, Name: it.Name, ImageRef: it.ImageRef})
	}
	return c
}
