package storage

import (
	"time"

	"github.com/foospoll/foospollbot/internal/domain"
)

type applicantModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	FirstName string    `gorm:"column:first_name"`
	LastName  string    `gorm:"column:last_name"`
	Username  string    `gorm:"column:username"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (applicantModel) TableName() string {
	return "applicants"
}

type profileModel struct {
	ID               int64     `gorm:"column:id;primaryKey"`
	ApplicantID      int64     `gorm:"column:applicant_id"`
	FirstName        *string   `gorm:"column:first_name"`
	LastName         *string   `gorm:"column:last_name"`
	Phone            *string   `gorm:"column:phone"`
	RatingURL        *string   `gorm:"column:rating_url"`
	ExternalPlayerID *int64    `gorm:"column:external_player_id"`
	PhotoRef         *string   `gorm:"column:photo_ref"`
	PhotoKey         *string   `gorm:"column:photo_key"`
	State            string    `gorm:"column:state"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (profileModel) TableName() string {
	return "applicant_profiles"
}

func (m profileModel) toEntity() domain.Profile {
	return domain.Profile{
		ApplicantID:      m.ApplicantID,
		FirstName:        deref(m.FirstName),
		LastName:         deref(m.LastName),
		Phone:            deref(m.Phone),
		RatingURL:        deref(m.RatingURL),
		ExternalPlayerID: derefInt(m.ExternalPlayerID),
		PhotoRef:         deref(m.PhotoRef),
		PhotoKey:         deref(m.PhotoKey),
		State:            domain.State(m.State),
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

// profileUpdates maps every mutable column so that cleared fields are written as NULL.
func profileUpdates(p domain.Profile, now time.Time) map[string]any {
	return map[string]any{
		"first_name":         nullable(p.FirstName),
		"last_name":          nullable(p.LastName),
		"phone":              nullable(p.Phone),
		"rating_url":         nullable(p.RatingURL),
		"external_player_id": nullableInt(p.ExternalPlayerID),
		"photo_ref":          nullable(p.PhotoRef),
		"photo_key":          nullable(p.PhotoKey),
		"state":              string(p.State),
		"updated_at":         now,
	}
}

type playerModel struct {
	ID                  int64      `gorm:"column:id;primaryKey;autoIncrement:false"`
	FirstName           string     `gorm:"column:first_name"`
	LastName            string     `gorm:"column:last_name"`
	IntlFirstName       *string    `gorm:"column:intl_first_name"`
	IntlLastName        *string    `gorm:"column:intl_last_name"`
	IntlLicense         *int64     `gorm:"column:intl_license"`
	Foreigner           bool       `gorm:"column:foreigner"`
	LastCompetitionDate *time.Time `gorm:"column:last_competition_date"`
}

func (playerModel) TableName() string {
	return "external_players"
}

func playerModelFromEntity(p domain.ExternalPlayer) playerModel {
	row := playerModel{
		ID:            p.ID,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		IntlFirstName: nullable(p.IntlFirstName),
		IntlLastName:  nullable(p.IntlLastName),
		IntlLicense:   nullableInt(p.IntlLicense),
		Foreigner:     p.Foreigner,
	}
	if !p.LastCompetitionDate.IsZero() {
		d := p.LastCompetitionDate.UTC()
		row.LastCompetitionDate = &d
	}
	return row
}

func (m playerModel) toEntity() domain.ExternalPlayer {
	p := domain.ExternalPlayer{
		ID:            m.ID,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		IntlFirstName: deref(m.IntlFirstName),
		IntlLastName:  deref(m.IntlLastName),
		IntlLicense:   derefInt(m.IntlLicense),
		Foreigner:     m.Foreigner,
	}
	if m.LastCompetitionDate != nil {
		p.LastCompetitionDate = m.LastCompetitionDate.UTC()
	}
	return p
}

type optionModel struct {
	ID    int64  `gorm:"column:id;primaryKey"`
	Label string `gorm:"column:label"`
}

func (optionModel) TableName() string {
	return "vote_options"
}

type voteModel struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	ApplicantID int64     `gorm:"column:applicant_id"`
	OptionID    int64     `gorm:"column:option_id"`
	SecretCode  string    `gorm:"column:secret_code"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (voteModel) TableName() string {
	return "vote_records"
}

func (m voteModel) toEntity() domain.VoteRecord {
	return domain.VoteRecord{
		ID:          m.ID,
		ApplicantID: m.ApplicantID,
		OptionID:    m.OptionID,
		SecretCode:  m.SecretCode,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
