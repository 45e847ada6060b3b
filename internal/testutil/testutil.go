// Package testutil provides SQLite-backed stores and a recording sender for package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/storage"
)

// NewStore opens a fresh SQLite database in a temp dir with the full schema.
func NewStore(t *testing.T) *storage.Store {
	t.Helper()

	db, err := storage.Open(storage.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s := storage.New(db, nil)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

// CompleteProfile returns a profile with every collected field filled.
func CompleteProfile(id, playerID int64) domain.Profile {
	return domain.Profile{
		ApplicantID:      id,
		FirstName:        "Иван",
		LastName:         "Петров",
		Phone:            "+7 (999) 123-45-67",
		RatingURL:        fmt.Sprintf("https://rtsf.ru/ratings/player/%d", playerID),
		ExternalPlayerID: playerID,
		PhotoRef:         fmt.Sprintf("photo-%d", id),
	}
}

// SeedApplicant creates an applicant and forces it into state, filling a complete profile
// for every state past the collection steps.
func SeedApplicant(t *testing.T, s *storage.Store, id int64, state domain.State) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.CreateApplicant(ctx, domain.Applicant{ID: id, FirstName: "tg", Username: fmt.Sprintf("user%d", id)}); err != nil {
		t.Fatalf("CreateApplicant(%d): %v", id, err)
	}
	playerID := id + 1000
	if err := s.UpsertExternalPlayers(ctx, []domain.ExternalPlayer{{ID: playerID, FirstName: "Иван", LastName: "Петров"}}); err != nil {
		t.Fatalf("UpsertExternalPlayers: %v", err)
	}

	err := s.WithinTx(ctx, func(tx *storage.Tx) error {
		p := domain.Profile{ApplicantID: id}
		switch state {
		case domain.StateCollectingFirstName, domain.StateCollectingLastName,
			domain.StateCollectingPhone, domain.StateCollectingRatingURL, domain.StateCollectingPhoto:
		default:
			p = CompleteProfile(id, playerID)
		}
		p.State = state
		return tx.SaveProfile(p)
	})
	if err != nil {
		t.Fatalf("seed applicant %d: %v", id, err)
	}
}

// SeedOptions stores vote options and returns them in id order.
func SeedOptions(t *testing.T, s *storage.Store, labels ...string) []domain.VoteOption {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertVoteOptions(ctx, labels); err != nil {
		t.Fatalf("UpsertVoteOptions: %v", err)
	}
	options, err := s.VoteOptions(ctx)
	if err != nil {
		t.Fatalf("VoteOptions: %v", err)
	}
	return options
}

type Message struct {
	Kind     string
	ChatID   int64
	Text     string
	PhotoRef string
	Menu     notify.Menu
}

// Sender records outbound traffic. Chats listed in Fail get a TransportError.
type Sender struct {
	mu       sync.Mutex
	Messages []Message
	Cleared  []int
	Acked    []string
	Fail     map[int64]bool
}

func NewSender() *Sender {
	return &Sender{Fail: map[int64]bool{}}
}

func (s *Sender) FailFor(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail[chatID] = true
}

func (s *Sender) record(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail[m.ChatID] {
		return &domain.TransportError{Recipient: m.ChatID, Err: fmt.Errorf("simulated failure")}
	}
	s.Messages = append(s.Messages, m)
	return nil
}

func (s *Sender) SendText(_ context.Context, chatID int64, text string) error {
	return s.record(Message{Kind: "text", ChatID: chatID, Text: text})
}

func (s *Sender) SendPhoto(_ context.Context, chatID int64, photoRef, caption string, menu notify.Menu) error {
	return s.record(Message{Kind: "photo", ChatID: chatID, Text: caption, PhotoRef: photoRef, Menu: menu})
}

func (s *Sender) SendMenu(_ context.Context, chatID int64, text string, menu notify.Menu) error {
	return s.record(Message{Kind: "menu", ChatID: chatID, Text: text, Menu: menu})
}

func (s *Sender) ClearMenu(_ context.Context, chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail[chatID] {
		return &domain.TransportError{Recipient: chatID, Err: fmt.Errorf("simulated failure")}
	}
	s.Cleared = append(s.Cleared, messageID)
	return nil
}

func (s *Sender) AckCallback(_ context.Context, callbackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Acked = append(s.Acked, callbackID)
	return nil
}

// To returns the messages delivered to chatID in order.
func (s *Sender) To(chatID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.Messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the latest message delivered to chatID.
func (s *Sender) Last(chatID int64) (Message, bool) {
	msgs := s.To(chatID)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

var _ notify.Sender = (*Sender)(nil)
