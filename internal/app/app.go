package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/foospoll/foospollbot/internal/access"
	"github.com/foospoll/foospollbot/internal/ballot"
	"github.com/foospoll/foospollbot/internal/broadcast"
	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/logging"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/registration"
	"github.com/foospoll/foospollbot/internal/review"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/workflow"
)

type Deps struct {
	Store        *storage.Store
	Sender       notify.Sender
	Admins       access.Policy
	Registration *registration.Service
	Review       *review.Service
	Broadcast    *broadcast.Dispatcher
	Ballot       *ballot.Recorder
	Logger       *slog.Logger
}

// App routes Telegram updates to the workflow services. Updates are handled
// concurrently; all shared state lives in the store.
type App struct {
	store      *storage.Store
	sender     notify.Sender
	admins     access.Policy
	register   *registration.Service
	review     *review.Service
	dispatcher *broadcast.Dispatcher
	ballot     *ballot.Recorder
	logger     *slog.Logger

	wg sync.WaitGroup
}

func New(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:      d.Store,
		sender:     d.Sender,
		admins:     d.Admins,
		register:   d.Registration,
		review:     d.Review,
		dispatcher: d.Broadcast,
		ballot:     d.Ballot,
		logger:     logger,
	}
}

// Run consumes updates until ctx is done or the channel closes, then waits for
// in-flight handlers.
func (a *App) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer a.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.Dispatch(ctx, update)
		}
	}
}

// Dispatch handles update in its own goroutine.
func (a *App) Dispatch(ctx context.Context, update tgbotapi.Update) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.HandleUpdate(ctx, update)
	}()
}

// Wait blocks until every dispatched update is handled.
func (a *App) Wait() {
	a.wg.Wait()
}

// HandleUpdate processes one update synchronously.
func (a *App) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	var userID int64
	if u := update.SentFrom(); u != nil {
		userID = u.ID
	}
	ctx, log := logging.WithEvent(ctx, a.logger, userID)

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "update handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if userID != 0 {
				a.reply(ctx, log, userID, textErrGeneric)
			}
		}
	}()

	switch {
	case update.Message != nil:
		a.handleMessage(ctx, log, update.Message)
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, log, update.CallbackQuery)
	}
}

// ---------- Updates ----------

func (a *App) handleMessage(ctx context.Context, log *slog.Logger, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	userID := msg.From.ID

	if msg.IsCommand() {
		a.handleCommand(ctx, log, msg)
		return
	}

	p, err := a.store.Profile(ctx, userID)
	if errors.Is(err, domain.ErrApplicantNotFound) {
		// Any first message registers the sender.
		a.start(ctx, log, msg.From)
		return
	}
	if err != nil {
		a.fail(ctx, log, userID, err)
		return
	}

	if !registration.Collecting(p.State) {
		a.reply(ctx, log, userID, registration.Prompt(p.State))
		return
	}

	switch {
	case p.State == domain.StateCollectingPhoto && len(msg.Photo) > 0:
		// Telegram lists sizes ascending; the last one is the original.
		err = a.register.SubmitPhoto(ctx, userID, p.State, msg.Photo[len(msg.Photo)-1].FileID)
	case p.State == domain.StateCollectingPhoto:
		err = a.register.SubmitText(ctx, userID, p.State, msg.Text)
	case strings.TrimSpace(msg.Text) == "":
		a.reply(ctx, log, userID, textNeedText+"\n\n"+registration.Prompt(p.State))
		return
	default:
		err = a.register.SubmitText(ctx, userID, p.State, msg.Text)
	}
	if err == nil {
		return
	}
	if registration.IsRetryable(err) {
		log.InfoContext(ctx, "step input rejected", "state", string(p.State), "error", err)
		a.reply(ctx, log, userID, errorText(err)+"\n\n"+registration.Prompt(p.State))
		return
	}
	a.fail(ctx, log, userID, err)
}

func (a *App) handleCommand(ctx context.Context, log *slog.Logger, msg *tgbotapi.Message) {
	userID := msg.From.ID
	args := msg.CommandArguments()

	switch msg.Command() {
	case "start":
		a.start(ctx, log, msg.From)
		return

	case "help":
		text := textHelp
		if _, err := a.admins.Authorize(userID); err == nil {
			text += "\n\n" + textAdminHelp
		}
		a.reply(ctx, log, userID, text)
		return

	case "start_vote", "status", "approve", "reject", "resend", "pending", "add_options":
		admin, err := a.admins.Authorize(userID)
		if err != nil {
			log.WarnContext(ctx, "admin command denied", "command", msg.Command())
			a.reply(ctx, log, userID, errorText(err))
			return
		}
		if err := a.handleAdminCommand(ctx, log, admin, msg.Command(), args); err != nil {
			a.fail(ctx, log, userID, err)
		}
		return
	}

	a.reply(ctx, log, userID, textUnknownCommand)
}

func (a *App) handleAdminCommand(ctx context.Context, log *slog.Logger, admin access.Admin, command, args string) error {
	switch command {
	case "start_vote":
		a.reply(ctx, log, admin.ID(), textBroadcastStarted)
		report, err := a.dispatcher.Dispatch(ctx, admin)
		if err != nil {
			return err
		}
		a.reply(ctx, log, admin.ID(), textBroadcastDone+report.String())
		return nil

	case "status":
		return a.SendStatus(ctx, admin)

	case "pending":
		return a.review.SendPending(ctx, admin)

	case "approve", "reject", "resend":
		id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
		if err != nil || id <= 0 {
			a.reply(ctx, log, admin.ID(), fmt.Sprintf(textUsageID, command))
			return nil
		}
		switch command {
		case "approve":
			return a.review.Approve(ctx, admin, id)
		case "reject":
			return a.review.Reject(ctx, admin, id)
		}
		if err := a.dispatcher.Resend(ctx, admin, id); err != nil {
			return err
		}
		a.reply(ctx, log, admin.ID(), fmt.Sprintf(textResent, id))
		return nil

	case "add_options":
		labels := splitPipeArgs(args, maxOptionsPerCommand)
		if len(labels) == 0 {
			a.reply(ctx, log, admin.ID(), textUsageOptions)
			return nil
		}
		if err := a.store.UpsertVoteOptions(ctx, labels); err != nil {
			return err
		}
		log.InfoContext(ctx, "vote options added", "admin_id", admin.ID(), "count", len(labels))
		a.reply(ctx, log, admin.ID(), fmt.Sprintf(textOptionsAdded, len(labels)))
		return nil
	}
	return nil
}

func (a *App) handleCallback(ctx context.Context, log *slog.Logger, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	userID := cq.From.ID

	// убрать "часики" у кнопки
	if err := a.sender.AckCallback(ctx, cq.ID); err != nil {
		log.WarnContext(ctx, "ack callback failed", "error", err)
	}

	if optionID, ok := broadcast.ParseCallback(cq.Data); ok {
		messageID := 0
		if cq.Message != nil {
			messageID = cq.Message.MessageID
		}
		if _, err := a.ballot.Record(ctx, userID, optionID, messageID); err != nil {
			a.fail(ctx, log, userID, err)
		}
		return
	}

	if trigger, applicantID, ok := review.ParseCallback(cq.Data); ok {
		admin, err := a.admins.Authorize(userID)
		if err != nil {
			log.WarnContext(ctx, "review callback denied")
			a.reply(ctx, log, userID, errorText(err))
			return
		}
		if trigger == workflow.Approve {
			err = a.review.Approve(ctx, admin, applicantID)
		} else {
			err = a.review.Reject(ctx, admin, applicantID)
		}
		if review.Decided(err) && cq.Message != nil {
			if err := a.sender.ClearMenu(ctx, cq.Message.Chat.ID, cq.Message.MessageID); err != nil {
				log.WarnContext(ctx, "clear review card failed", "error", err)
			}
		}
		if err != nil {
			a.fail(ctx, log, userID, err)
		}
		return
	}

	log.InfoContext(ctx, "unknown callback", "data", cq.Data)
}

// SendStatus reports applicant counts per state and the current tallies to admin.
func (a *App) SendStatus(ctx context.Context, admin access.Admin) error {
	if err := access.Require(admin); err != nil {
		return err
	}
	st, err := a.store.Status(ctx)
	if err != nil {
		return err
	}
	return a.sender.SendText(ctx, admin.ID(), FormatStatus(st))
}

// StartVote runs the broadcast on behalf of the primary administrator and sends them
// the report. Used by the scheduler.
func (a *App) StartVote(ctx context.Context) error {
	admin, err := a.admins.Primary()
	if err != nil {
		return err
	}
	report, err := a.dispatcher.Dispatch(ctx, admin)
	if err != nil {
		return err
	}
	return a.sender.SendText(ctx, admin.ID(), textBroadcastDone+report.String())
}

// StatusDigest sends the status to every administrator.
func (a *App) StatusDigest(ctx context.Context) error {
	var errs []error
	for _, id := range a.admins.IDs() {
		admin, err := a.admins.Authorize(id)
		if err != nil {
			continue
		}
		if err := a.SendStatus(ctx, admin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---------- helpers ----------

func (a *App) start(ctx context.Context, log *slog.Logger, from *tgbotapi.User) {
	err := a.register.Start(ctx, domain.Applicant{
		ID:        from.ID,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Username:  from.UserName,
	})
	if err != nil {
		a.fail(ctx, log, from.ID, err)
	}
}

func (a *App) reply(ctx context.Context, log *slog.Logger, chatID int64, text string) {
	if err := a.sender.SendText(ctx, chatID, text); err != nil {
		log.WarnContext(ctx, "reply failed", "chat_id", chatID, "error", err)
	}
}

// fail logs err and tells the user what went wrong. A delivery failure to the same chat
// is only logged.
func (a *App) fail(ctx context.Context, log *slog.Logger, chatID int64, err error) {
	var terr *domain.TransportError
	if errors.As(err, &terr) && terr.Recipient == chatID {
		log.WarnContext(ctx, "delivery failed", "error", err)
		return
	}
	if expected(err) {
		log.InfoContext(ctx, "request refused", "error", err)
	} else {
		log.ErrorContext(ctx, "update handling failed", "error", err)
	}
	a.reply(ctx, log, chatID, errorText(err))
}

func expected(err error) bool {
	var (
		verr *domain.ValidationError
		terr *domain.TransportError
	)
	return errors.As(err, &verr) || errors.As(err, &terr) ||
		errors.Is(err, domain.ErrTransitionRejected) ||
		errors.Is(err, domain.ErrApplicantNotFound) ||
		errors.Is(err, domain.ErrNotAdmin) ||
		errors.Is(err, domain.ErrExternalPlayerNotFound) ||
		errors.Is(err, domain.ErrPlayerAlreadyRegistered) ||
		errors.Is(err, domain.ErrDuplicateVote) ||
		errors.Is(err, domain.ErrUnknownOption) ||
		errors.Is(err, domain.ErrNoVoteOptions)
}

func splitPipeArgs(s string, n int) []string {
	raw := strings.SplitN(s, "|", n)
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FormatStatus renders counts per state followed by the tallies.
func FormatStatus(st domain.Status) string {
	var sb strings.Builder
	sb.WriteString("Заявки по статусам:\n")
	for _, s := range domain.States {
		fmt.Fprintf(&sb, "• %s: %d\n", stateLabel(s), st.ByState[s])
	}

	sb.WriteString("\nГолоса:\n")
	if len(st.Tallies) == 0 {
		sb.WriteString("Варианты голосования не заданы.\n")
	}
	tallies := append([]domain.OptionTally(nil), st.Tallies...)
	sort.SliceStable(tallies, func(i, j int) bool { return tallies[i].Votes > tallies[j].Votes })
	for _, t := range tallies {
		fmt.Fprintf(&sb, "• %s (ID %d): %d\n", t.Label, t.OptionID, t.Votes)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func stateLabel(s domain.State) string {
	switch s {
	case domain.StateCollectingFirstName:
		return "ввод имени"
	case domain.StateCollectingLastName:
		return "ввод фамилии"
	case domain.StateCollectingPhone:
		return "ввод телефона"
	case domain.StateCollectingRatingURL:
		return "ввод ссылки на рейтинг"
	case domain.StateCollectingPhoto:
		return "загрузка фото"
	case domain.StateInReview:
		return "на проверке"
	case domain.StateAccepted:
		return "одобрены"
	case domain.StateRejected:
		return "отклонены"
	case domain.StateVoting:
		return "голосуют"
	case domain.StateVoted:
		return "проголосовали"
	}
	return string(s)
}
