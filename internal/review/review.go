// Package review covers the administrator side of an application: the review card and
// the approve/reject decisions.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/foospoll/foospollbot/internal/access"
	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/workflow"
)

const (
	ApprovePrefix = "approve:"
	RejectPrefix  = "reject:"

	textApproved      = "Ваша заявка одобрена! Ждите начала голосования."
	textRejected      = "К сожалению, ваша заявка отклонена."
	textAdminApproved = "Заявка #%d одобрена."
	textAdminRejected = "Заявка #%d отклонена."
	textNoPending     = "Нет заявок на проверке."
)

type Service struct {
	store  *storage.Store
	sender notify.Sender
	admins access.Policy
	logger *slog.Logger
}

func New(store *storage.Store, sender notify.Sender, admins access.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, sender: sender, admins: admins, logger: logger}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.From(ctx, s.logger)
}

// Menu is the approve/reject keyboard attached to an application card.
func Menu(applicantID int64) notify.Menu {
	id := strconv.FormatInt(applicantID, 10)
	return notify.Menu{{
		{Label: "Одобрить", Data: ApprovePrefix + id},
		{Label: "Отклонить", Data: RejectPrefix + id},
	}}
}

// Card renders the application summary shown to administrators.
func Card(p domain.Profile, player *domain.ExternalPlayer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Заявка #%d\n", p.ApplicantID)
	fmt.Fprintf(&b, "Имя: %s %s\n", p.FirstName, p.LastName)
	fmt.Fprintf(&b, "Телефон: %s\n", p.Phone)
	fmt.Fprintf(&b, "Рейтинг: %s", p.RatingURL)
	if player != nil {
		fmt.Fprintf(&b, "\nИгрок в рейтинге: %s %s (id %d)", player.FirstName, player.LastName, player.ID)
		if player.Foreigner {
			b.WriteString(", иностранец")
		}
	}
	return b.String()
}

// Announce sends the application card to every administrator.
func (s *Service) Announce(ctx context.Context, p domain.Profile) error {
	var errs []error
	for _, adminID := range s.admins.IDs() {
		if err := s.sendCard(ctx, adminID, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendPending re-sends the cards of every application still waiting for a decision.
func (s *Service) SendPending(ctx context.Context, admin access.Admin) error {
	if err := access.Require(admin); err != nil {
		return err
	}
	ids, err := s.store.ListApplicantIDsByState(ctx, domain.StateInReview)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return s.sender.SendText(ctx, admin.ID(), textNoPending)
	}
	for _, id := range ids {
		p, err := s.store.Profile(ctx, id)
		if err != nil {
			return err
		}
		if err := s.sendCard(ctx, admin.ID(), p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) sendCard(ctx context.Context, to int64, p domain.Profile) error {
	var player *domain.ExternalPlayer
	if p.ExternalPlayerID != 0 {
		if found, err := s.store.ExternalPlayer(ctx, p.ExternalPlayerID); err == nil {
			player = &found
		}
	}
	caption := Card(p, player)
	if p.PhotoRef == "" {
		return s.sender.SendMenu(ctx, to, caption, Menu(p.ApplicantID))
	}
	return s.sender.SendPhoto(ctx, to, p.PhotoRef, caption, Menu(p.ApplicantID))
}

// Approve moves an application to ACCEPTED. The guard reports which fields are missing.
func (s *Service) Approve(ctx context.Context, admin access.Admin, applicantID int64) error {
	return s.decide(ctx, admin, applicantID, workflow.Approve, textApproved, textAdminApproved)
}

// Reject moves an application to REJECTED.
func (s *Service) Reject(ctx context.Context, admin access.Admin, applicantID int64) error {
	return s.decide(ctx, admin, applicantID, workflow.Reject, textRejected, textAdminRejected)
}

func (s *Service) decide(ctx context.Context, admin access.Admin, applicantID int64, trigger workflow.Trigger, userText, adminText string) error {
	if err := access.Require(admin); err != nil {
		return err
	}

	var next domain.State
	err := s.store.WithinTx(ctx, func(tx *storage.Tx) error {
		p, err := tx.ProfileForUpdate(applicantID)
		if err != nil {
			return err
		}
		next, err = workflow.Attempt(p.State, trigger, p)
		if err != nil {
			return err
		}
		p.State = next
		return tx.SaveProfile(p)
	})
	if err != nil {
		s.log(ctx).WarnContext(ctx, "review decision rejected",
			"admin_id", admin.ID(), "applicant_id", applicantID, "trigger", string(trigger), "error", err)
		return err
	}

	s.log(ctx).InfoContext(ctx, "review decision saved",
		"admin_id", admin.ID(), "applicant_id", applicantID, "state", string(next))

	// The decision is committed; the admin is told even if the applicant is unreachable.
	notifyErr := s.sender.SendText(ctx, applicantID, userText)
	if notifyErr != nil {
		s.log(ctx).WarnContext(ctx, "review decision not delivered", "applicant_id", applicantID, "error", notifyErr)
	}
	return errors.Join(notifyErr, s.sender.SendText(ctx, admin.ID(), fmt.Sprintf(adminText, applicantID)))
}

// Decided reports whether err from Approve or Reject came after the decision was saved.
func Decided(err error) bool {
	var terr *domain.TransportError
	return err == nil || errors.As(err, &terr)
}

// ParseCallback splits approve:<id> and reject:<id> callback data.
func ParseCallback(data string) (workflow.Trigger, int64, bool) {
	var (
		trigger workflow.Trigger
		raw     string
	)
	switch {
	case strings.HasPrefix(data, ApprovePrefix):
		trigger, raw = workflow.Approve, strings.TrimPrefix(data, ApprovePrefix)
	case strings.HasPrefix(data, RejectPrefix):
		trigger, raw = workflow.Reject, strings.TrimPrefix(data, RejectPrefix)
	default:
		return "", 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return trigger, id, true
}
