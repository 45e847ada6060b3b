// Package broadcast sends the ballot to every accepted applicant with bounded concurrency.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/foospoll/foospollbot/internal/access"
	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/workflow"
)

const (
	VotePrefix = "vote:"

	DefaultConcurrency = 3
	DefaultPause       = 2 * time.Second

	textInvitation = "Голосование началось! Выберите кандидата. Голос можно отдать только один раз."
)

// Outcome of a single recipient.
type Outcome string

const (
	Sent    Outcome = "sent"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

type Result struct {
	ApplicantID int64
	Outcome     Outcome
	Err         error
}

// Report collects per-recipient outcomes of one dispatch.
type Report struct {
	Results []Result
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r Report) String() string {
	return fmt.Sprintf("отправлено: %d, пропущено: %d, ошибок: %d", r.Count(Sent), r.Count(Skipped), r.Count(Failed))
}

type Dispatcher struct {
	store       *storage.Store
	sender      notify.Sender
	concurrency int64
	pause       time.Duration
	logger      *slog.Logger
}

func New(store *storage.Store, sender notify.Sender, concurrency int, pause time.Duration, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if pause < 0 {
		pause = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       store,
		sender:      sender,
		concurrency: int64(concurrency),
		pause:       pause,
		logger:      logger,
	}
}

func (d *Dispatcher) log(ctx context.Context) *slog.Logger {
	return logging.From(ctx, d.logger)
}

// Ballot is the keyboard with one button per option.
func Ballot(options []domain.VoteOption) notify.Menu {
	buttons := make([]notify.Button, 0, len(options))
	for _, o := range options {
		buttons = append(buttons, notify.Button{Label: o.Label, Data: VotePrefix + strconv.FormatInt(o.ID, 10)})
	}
	return notify.Column(buttons...)
}

// Dispatch moves every ACCEPTED applicant to VOTING and sends them the ballot. It returns
// an error only when the run cannot start; per-recipient failures land in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, admin access.Admin) (Report, error) {
	if err := access.Require(admin); err != nil {
		return Report{}, err
	}
	options, err := d.store.VoteOptions(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(options) == 0 {
		return Report{}, domain.ErrNoVoteOptions
	}
	ids, err := d.store.ListApplicantIDsByState(ctx, domain.StateAccepted)
	if err != nil {
		return Report{}, err
	}

	d.log(ctx).InfoContext(ctx, "broadcast started",
		"admin_id", admin.ID(), "recipients", len(ids), "options", len(options), "concurrency", d.concurrency)

	menu := Ballot(options)
	sem := semaphore.NewWeighted(d.concurrency)
	results := make([]Result, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(ids); j++ {
				results[j] = Result{ApplicantID: ids[j], Outcome: Failed, Err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = d.deliver(ctx, id, menu)
			d.rest(ctx)
		}(i, id)
	}
	wg.Wait()

	report := Report{Results: results}
	d.log(ctx).InfoContext(ctx, "broadcast finished",
		"sent", report.Count(Sent), "skipped", report.Count(Skipped), "failed", report.Count(Failed))
	return report, nil
}

// Resend delivers the ballot again to an applicant already in VOTING, for recipients
// whose first delivery failed.
func (d *Dispatcher) Resend(ctx context.Context, admin access.Admin, applicantID int64) error {
	if err := access.Require(admin); err != nil {
		return err
	}
	p, err := d.store.Profile(ctx, applicantID)
	if err != nil {
		return err
	}
	if p.State != domain.StateVoting {
		return &workflow.TransitionError{From: p.State, Trigger: workflow.StartVote}
	}
	options, err := d.store.VoteOptions(ctx)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		return domain.ErrNoVoteOptions
	}
	return d.sender.SendMenu(ctx, applicantID, textInvitation, Ballot(options))
}

func (d *Dispatcher) deliver(ctx context.Context, applicantID int64, menu notify.Menu) Result {
	err := d.store.WithinTx(ctx, func(tx *storage.Tx) error {
		p, err := tx.ProfileForUpdate(applicantID)
		if err != nil {
			return err
		}
		next, err := workflow.Attempt(p.State, workflow.StartVote, p)
		if err != nil {
			return err
		}
		p.State = next
		return tx.SaveProfile(p)
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransitionRejected) {
			d.log(ctx).InfoContext(ctx, "broadcast recipient skipped", "applicant_id", applicantID, "reason", err.Error())
			return Result{ApplicantID: applicantID, Outcome: Skipped, Err: err}
		}
		d.log(ctx).ErrorContext(ctx, "broadcast transition failed", "applicant_id", applicantID, "error", err)
		return Result{ApplicantID: applicantID, Outcome: Failed, Err: err}
	}

	if err := d.sender.SendMenu(ctx, applicantID, textInvitation, menu); err != nil {
		d.log(ctx).WarnContext(ctx, "broadcast delivery failed", "applicant_id", applicantID, "error", err)
		return Result{ApplicantID: applicantID, Outcome: Failed, Err: err}
	}
	return Result{ApplicantID: applicantID, Outcome: Sent}
}

func (d *Dispatcher) rest(ctx context.Context) {
	if d.pause <= 0 {
		return
	}
	t := time.NewTimer(d.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ParseCallback extracts the option id from vote:<id> callback data.
func ParseCallback(data string) (int64, bool) {
	if len(data) <= len(VotePrefix) || data[:len(VotePrefix)] != VotePrefix {
		return 0, false
	}
	id, err := strconv.ParseInt(data[len(VotePrefix):], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
