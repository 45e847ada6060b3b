// Package registration implements the data-collection steps of the applicant workflow.
package registration

import (
	"context"
	"errors"
	"log/slog"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/parse"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/workflow"
)

const (
	textGreeting      = "Привет! Это регистрация на турнир. Ответьте на несколько вопросов."
	textAskFirstName  = "Сообщите свое имя"
	textAskLastName   = "Сообщите свою фамилию"
	textAskPhone      = "Сообщите номер телефона"
	textAskRatingURL  = "Пришлите ссылку на свой рейтинг на https://rtsf.ru/ratings"
	textAskPhoto      = "Пришлите свою фотографию"
	textSubmitted     = "Заявка создана. Она будет проверена вручную. Ждите результатов."
	textInReview      = "Ваша заявка на проверке. Ждите результатов."
	textAccepted      = "Ваша заявка одобрена. Ждите начала голосования."
	textRejected      = "Ваша заявка отклонена. Если это ошибка, обратитесь к организаторам."
	textVoting        = "Голосование уже идет. Выберите кандидата кнопкой под сообщением с бюллетенем."
	textVoted         = "Ваш голос уже учтен. Спасибо!"
	textPhotoExpected = "Нужна фотография. Пришлите ее картинкой, а не файлом."
)

// Prompt is the message shown to an applicant sitting in state.
func Prompt(state domain.State) string {
	switch state {
	case domain.StateCollectingFirstName:
		return textAskFirstName
	case domain.StateCollectingLastName:
		return textAskLastName
	case domain.StateCollectingPhone:
		return textAskPhone
	case domain.StateCollectingRatingURL:
		return textAskRatingURL
	case domain.StateCollectingPhoto:
		return textAskPhoto
	case domain.StateInReview:
		return textInReview
	case domain.StateAccepted:
		return textAccepted
	case domain.StateRejected:
		return textRejected
	case domain.StateVoting:
		return textVoting
	case domain.StateVoted:
		return textVoted
	}
	return textInReview
}

// Collecting reports whether state is one of the data-collection steps.
func Collecting(state domain.State) bool {
	switch state {
	case domain.StateCollectingFirstName, domain.StateCollectingLastName, domain.StateCollectingPhone,
		domain.StateCollectingRatingURL, domain.StateCollectingPhoto:
		return true
	}
	return false
}

// Announcer is told about every application that reaches review.
type Announcer interface {
	Announce(ctx context.Context, p domain.Profile) error
}

// PhotoArchiver copies an uploaded photo to long-term storage and returns its key.
type PhotoArchiver interface {
	Archive(ctx context.Context, fileID, owner string) (string, error)
}

type Service struct {
	store     *storage.Store
	sender    notify.Sender
	announcer Announcer
	archiver  PhotoArchiver
	logger    *slog.Logger
}

func New(store *storage.Store, sender notify.Sender, announcer Announcer, archiver PhotoArchiver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		sender:    sender,
		announcer: announcer,
		archiver:  archiver,
		logger:    logger,
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.From(ctx, s.logger)
}

// Start registers a new applicant or reminds a known one where they are.
func (s *Service) Start(ctx context.Context, a domain.Applicant) error {
	created, err := s.store.CreateApplicant(ctx, a)
	if err != nil {
		return err
	}
	p, err := s.store.Profile(ctx, a.ID)
	if err != nil {
		return err
	}
	if created {
		s.log(ctx).InfoContext(ctx, "applicant created", "applicant_id", a.ID)
		if err := s.sender.SendText(ctx, a.ID, textGreeting); err != nil {
			return err
		}
	} else {
		s.log(ctx).InfoContext(ctx, "applicant already exists", "applicant_id", a.ID, "state", string(p.State))
	}
	return s.sender.SendText(ctx, a.ID, Prompt(p.State))
}

type applyFunc func(tx *storage.Tx, p *domain.Profile) error

// SubmitText handles a free-text answer for the step the applicant was routed to.
func (s *Service) SubmitText(ctx context.Context, applicantID int64, routed domain.State, raw string) error {
	apply, err := textStep(routed, raw)
	if err != nil {
		return err
	}
	return s.advance(ctx, applicantID, routed, apply)
}

// SubmitPhoto handles an uploaded photo for the photo step.
func (s *Service) SubmitPhoto(ctx context.Context, applicantID int64, routed domain.State, fileID string) error {
	if routed != domain.StateCollectingPhoto {
		return &workflow.TransitionError{From: routed, Trigger: workflow.Advance}
	}
	if fileID == "" {
		return &domain.ValidationError{Field: "photo", Value: fileID, Reason: "empty file id"}
	}

	var key string
	if s.archiver != nil {
		// Unlocked read; advance re-checks under the row lock.
		p, err := s.store.Profile(ctx, applicantID)
		if err != nil {
			return err
		}
		if err := workflow.Expect(p.State, routed, workflow.Advance); err != nil {
			return err
		}
		k, err := s.archiver.Archive(ctx, fileID, p.FirstName+" "+p.LastName)
		if err != nil {
			s.log(ctx).WarnContext(ctx, "photo archive failed", "applicant_id", applicantID, "error", err)
		}
		key = k
	}

	err := s.advance(ctx, applicantID, routed, func(_ *storage.Tx, p *domain.Profile) error {
		p.PhotoRef = fileID
		p.PhotoKey = key
		return nil
	})
	if err != nil && key != "" {
		s.log(ctx).WarnContext(ctx, "archived photo orphaned", "applicant_id", applicantID, "key", key, "error", err)
	}
	return err
}

func textStep(routed domain.State, raw string) (applyFunc, error) {
	switch routed {
	case domain.StateCollectingFirstName:
		name, err := parse.Name("first_name", raw)
		if err != nil {
			return nil, err
		}
		return func(_ *storage.Tx, p *domain.Profile) error {
			p.FirstName = name
			return nil
		}, nil

	case domain.StateCollectingLastName:
		name, err := parse.Name("last_name", raw)
		if err != nil {
			return nil, err
		}
		return func(_ *storage.Tx, p *domain.Profile) error {
			p.LastName = name
			return nil
		}, nil

	case domain.StateCollectingPhone:
		phone, err := parse.Phone(raw)
		if err != nil {
			return nil, err
		}
		return func(_ *storage.Tx, p *domain.Profile) error {
			p.Phone = phone
			return nil
		}, nil

	case domain.StateCollectingRatingURL:
		rating, err := parse.Rating(raw)
		if err != nil {
			return nil, err
		}
		return func(tx *storage.Tx, p *domain.Profile) error {
			player, err := tx.ExternalPlayer(rating.PlayerID)
			if err != nil {
				return err
			}
			p.RatingURL = rating.URL
			p.ExternalPlayerID = player.ID
			return nil
		}, nil

	case domain.StateCollectingPhoto:
		return nil, &domain.ValidationError{Field: "photo", Value: raw, Reason: "photo expected"}
	}
	return nil, &workflow.TransitionError{From: routed, Trigger: workflow.Advance}
}

// advance persists one step: lock, check the routed state still holds, apply the parsed
// value together with the next state, commit, then prompt.
func (s *Service) advance(ctx context.Context, applicantID int64, routed domain.State, apply applyFunc) error {
	var saved domain.Profile
	err := s.store.WithinTx(ctx, func(tx *storage.Tx) error {
		p, err := tx.ProfileForUpdate(applicantID)
		if err != nil {
			return err
		}
		if err := workflow.Expect(p.State, routed, workflow.Advance); err != nil {
			return err
		}
		next, err := workflow.Attempt(p.State, workflow.Advance, p)
		if err != nil {
			return err
		}
		if err := apply(tx, &p); err != nil {
			return err
		}
		p.State = next
		if err := tx.SaveProfile(p); err != nil {
			return err
		}
		saved = p
		return nil
	})
	if err != nil {
		return err
	}

	s.log(ctx).InfoContext(ctx, "step saved", "applicant_id", applicantID, "from", string(routed), "to", string(saved.State))

	if saved.State != domain.StateInReview {
		return s.sender.SendText(ctx, applicantID, Prompt(saved.State))
	}

	if err := s.sender.SendText(ctx, applicantID, textSubmitted); err != nil {
		return err
	}
	if s.announcer != nil {
		if err := s.announcer.Announce(ctx, saved); err != nil {
			s.log(ctx).WarnContext(ctx, "announce application failed", "applicant_id", applicantID, "error", err)
		}
	}
	return nil
}

// PhotoExpected is the reply for non-photo input on the photo step.
func PhotoExpected() string {
	return textPhotoExpected
}

// IsRetryable reports errors that leave the applicant on the same step.
func IsRetryable(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, domain.ErrExternalPlayerNotFound) ||
		errors.Is(err, domain.ErrPlayerAlreadyRegistered)
}
