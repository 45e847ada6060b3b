// Package ballot records votes and issues the secret codes that let voters check them.
package ballot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/workflow"
)

const (
	DefaultCodeLength = 8
	DefaultAttempts   = 5

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	textVoted = "Ваш голос за «%s» учтен. Секретный код: %s\nСохраните его, чтобы проверить свой голос в итогах."
)

// ErrCodesExhausted means every generated code collided with an existing one.
var ErrCodesExhausted = errors.New("could not allocate a unique secret code")

// CodeFunc produces a candidate secret code.
type CodeFunc func() (string, error)

// RandomCodes returns a CodeFunc drawing length characters from A-Z0-9.
func RandomCodes(length int) CodeFunc {
	if length <= 0 {
		length = DefaultCodeLength
	}
	size := big.NewInt(int64(len(alphabet)))
	return func() (string, error) {
		buf := make([]byte, length)
		for i := range buf {
			n, err := rand.Int(rand.Reader, size)
			if err != nil {
				return "", fmt.Errorf("secret code: %w", err)
			}
			buf[i] = alphabet[n.Int64()]
		}
		return string(buf), nil
	}
}

type Recorder struct {
	store    *storage.Store
	sender   notify.Sender
	codes    CodeFunc
	attempts int
	logger   *slog.Logger
}

func New(store *storage.Store, sender notify.Sender, codes CodeFunc, attempts int, logger *slog.Logger) *Recorder {
	if codes == nil {
		codes = RandomCodes(DefaultCodeLength)
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, sender: sender, codes: codes, attempts: attempts, logger: logger}
}

func (r *Recorder) log(ctx context.Context) *slog.Logger {
	return logging.From(ctx, r.logger)
}

// Record stores one vote for the applicant and moves them to VOTED in the same
// transaction. messageID is the ballot message whose keyboard is removed afterwards;
// zero skips that step.
func (r *Recorder) Record(ctx context.Context, applicantID, optionID int64, messageID int) (domain.VoteRecord, error) {
	var (
		record domain.VoteRecord
		option domain.VoteOption
	)
	err := r.store.WithinTx(ctx, func(tx *storage.Tx) error {
		p, err := tx.ProfileForUpdate(applicantID)
		if err != nil {
			return err
		}
		next, err := workflow.Attempt(p.State, workflow.RecordVote, p)
		if err != nil {
			return err
		}
		option, err = tx.VoteOption(optionID)
		if err != nil {
			return err
		}
		record, err = r.insert(ctx, tx, applicantID, optionID)
		if err != nil {
			return err
		}
		p.State = next
		return tx.SaveProfile(p)
	})
	if err != nil {
		return domain.VoteRecord{}, err
	}

	r.log(ctx).InfoContext(ctx, "vote recorded", "applicant_id", applicantID, "option_id", optionID, "vote_id", record.ID)

	if messageID != 0 {
		if err := r.sender.ClearMenu(ctx, applicantID, messageID); err != nil {
			r.log(ctx).WarnContext(ctx, "clear ballot failed", "applicant_id", applicantID, "error", err)
		}
	}
	if err := r.sender.SendText(ctx, applicantID, fmt.Sprintf(textVoted, option.Label, record.SecretCode)); err != nil {
		return record, err
	}
	return record, nil
}

func (r *Recorder) insert(ctx context.Context, tx *storage.Tx, applicantID, optionID int64) (domain.VoteRecord, error) {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		code, err := r.codes()
		if err != nil {
			return domain.VoteRecord{}, err
		}
		rec, err := tx.InsertVote(applicantID, optionID, code)
		if errors.Is(err, domain.ErrSecretCodeTaken) {
			r.log(ctx).WarnContext(ctx, "secret code collision", "applicant_id", applicantID, "attempt", attempt)
			continue
		}
		return rec, err
	}
	return domain.VoteRecord{}, ErrCodesExhausted
}
