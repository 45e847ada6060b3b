// Package seed loads vote options and the external player registry from a YAML file.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/storage"
)

type File struct {
	Options []string `yaml:"options"`
	Players []Player `yaml:"players"`
}

type Player struct {
	ID                  int64  `yaml:"id"`
	FirstName           string `yaml:"first_name"`
	LastName            string `yaml:"last_name"`
	IntlFirstName       string `yaml:"intl_first_name"`
	IntlLastName        string `yaml:"intl_last_name"`
	IntlLicense         int64  `yaml:"intl_license"`
	Foreigner           bool   `yaml:"foreigner"`
	LastCompetitionDate string `yaml:"last_competition_date"`
}

func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return File{}, fmt.Errorf("decode seed: %w", err)
	}
	seen := map[int64]bool{}
	for _, p := range file.Players {
		if p.ID <= 0 {
			return File{}, fmt.Errorf("player %q: id must be positive", p.LastName)
		}
		if seen[p.ID] {
			return File{}, fmt.Errorf("player %d listed twice", p.ID)
		}
		seen[p.ID] = true
	}
	for i, o := range file.Options {
		if strings.TrimSpace(o) == "" {
			return File{}, fmt.Errorf("option %d is empty", i)
		}
	}
	return file, nil
}

func (p Player) toDomain() (domain.ExternalPlayer, error) {
	out := domain.ExternalPlayer{
		ID:            p.ID,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		IntlFirstName: p.IntlFirstName,
		IntlLastName:  p.IntlLastName,
		IntlLicense:   p.IntlLicense,
		Foreigner:     p.Foreigner,
	}
	if p.LastCompetitionDate != "" {
		d, err := time.Parse(time.DateOnly, p.LastCompetitionDate)
		if err != nil {
			return domain.ExternalPlayer{}, fmt.Errorf("player %d: %w", p.ID, err)
		}
		out.LastCompetitionDate = d
	}
	return out, nil
}

// Apply upserts everything in file. Re-applying the same file is a no-op.
func Apply(ctx context.Context, store *storage.Store, file File) error {
	players := make([]domain.ExternalPlayer, 0, len(file.Players))
	for _, p := range file.Players {
		ep, err := p.toDomain()
		if err != nil {
			return err
		}
		players = append(players, ep)
	}
	if len(players) > 0 {
		if err := store.UpsertExternalPlayers(ctx, players); err != nil {
			return err
		}
	}
	if len(file.Options) > 0 {
		labels := make([]string, 0, len(file.Options))
		for _, o := range file.Options {
			labels = append(labels, strings.TrimSpace(o))
		}
		if err := store.UpsertVoteOptions(ctx, labels); err != nil {
			return err
		}
	}
	return nil
}
