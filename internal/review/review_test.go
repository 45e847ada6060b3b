package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foospoll/foospollbot/internal/access"
	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/testutil"
	"github.com/foospoll/foospollbot/internal/workflow"
)

const adminID = 900

func setup(t *testing.T) (*Service, *storage.Store, *testutil.Sender, access.Admin) {
	t.Helper()
	store := testutil.NewStore(t)
	sender := testutil.NewSender()
	policy := access.NewPolicy([]int64{adminID})
	admin, err := policy.Authorize(adminID)
	require.NoError(t, err)
	return New(store, sender, policy, nil), store, sender, admin
}

func TestApprove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, sender, admin := setup(t)
	testutil.SeedApplicant(t, store, 1, domain.StateInReview)

	require.NoError(t, svc.Approve(ctx, admin, 1))

	p, err := store.Profile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.StateAccepted, p.State)

	last, ok := sender.Last(1)
	require.True(t, ok)
	require.Equal(t, textApproved, last.Text)
	confirm, ok := sender.Last(adminID)
	require.True(t, ok)
	require.Equal(t, "Заявка #1 одобрена.", confirm.Text)
}

func TestReject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, sender, admin := setup(t)
	testutil.SeedApplicant(t, store, 2, domain.StateInReview)

	require.NoError(t, svc.Reject(ctx, admin, 2))

	p, err := store.Profile(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, domain.StateRejected, p.State)
	last, _ := sender.Last(2)
	require.Equal(t, textRejected, last.Text)

	// A second decision on a closed application is refused.
	err = svc.Approve(ctx, admin, 2)
	require.ErrorIs(t, err, domain.ErrTransitionRejected)
}

func TestApprove_GuardReportsMissingFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, sender, admin := setup(t)

	_, err := store.CreateApplicant(ctx, domain.Applicant{ID: 3})
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(ctx, func(tx *storage.Tx) error {
		return tx.SaveProfile(domain.Profile{
			ApplicantID: 3,
			FirstName:   "Иван",
			LastName:    "Петров",
			State:       domain.StateInReview,
		})
	}))

	err = svc.Approve(ctx, admin, 3)
	var terr *workflow.TransitionError
	require.True(t, errors.As(err, &terr), "got %v", err)
	require.Equal(t, []string{"phone", "rating_url", "external_player_id", "photo"}, terr.Missing)

	p, err := store.Profile(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, domain.StateInReview, p.State)
	require.Empty(t, sender.To(3))
}

func TestDecide_RequiresCapability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, _, _ := setup(t)
	testutil.SeedApplicant(t, store, 4, domain.StateInReview)

	require.ErrorIs(t, svc.Approve(ctx, access.Admin{}, 4), domain.ErrNotAdmin)
	require.ErrorIs(t, svc.Reject(ctx, access.Admin{}, 4), domain.ErrNotAdmin)

	p, err := store.Profile(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, domain.StateInReview, p.State)
}

func TestDecide_UnknownApplicant(t *testing.T) {
	t.Parallel()
	svc, _, _, admin := setup(t)
	require.ErrorIs(t, svc.Approve(context.Background(), admin, 404), domain.ErrApplicantNotFound)
}

func TestApprove_NotificationFailureKeepsDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, sender, admin := setup(t)
	testutil.SeedApplicant(t, store, 5, domain.StateInReview)
	sender.FailFor(5)

	err := svc.Approve(ctx, admin, 5)
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	require.EqualValues(t, 5, terr.Recipient)
	require.True(t, Decided(err))

	p, err := store.Profile(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, domain.StateAccepted, p.State)

	confirm, ok := sender.Last(adminID)
	require.True(t, ok, "admin must be told the decision was saved")
	require.Equal(t, "Заявка #5 одобрена.", confirm.Text)
}

func TestAnnounceAndPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, store, sender, admin := setup(t)
	testutil.SeedApplicant(t, store, 6, domain.StateInReview)

	p, err := store.Profile(ctx, 6)
	require.NoError(t, err)
	require.NoError(t, svc.Announce(ctx, p))

	card, ok := sender.Last(adminID)
	require.True(t, ok)
	require.Equal(t, "photo", card.Kind)
	require.Equal(t, "photo-6", card.PhotoRef)
	require.Contains(t, card.Text, "Заявка #6")
	require.Contains(t, card.Text, "id 1006")
	require.Equal(t, Menu(6), card.Menu)

	require.NoError(t, svc.SendPending(ctx, admin))
	require.Len(t, sender.To(adminID), 2)
}

func TestSendPending_Empty(t *testing.T) {
	t.Parallel()
	svc, _, sender, admin := setup(t)
	require.NoError(t, svc.SendPending(context.Background(), admin))
	last, _ := sender.Last(adminID)
	require.Equal(t, textNoPending, last.Text)
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	cases := []struct {
		data    string
		trigger workflow.Trigger
		id      int64
		ok      bool
	}{
		{"approve:12", workflow.Approve, 12, true},
		{"reject:7", workflow.Reject, 7, true},
		{"approve:", "", 0, false},
		{"reject:-1", "", 0, false},
		{"vote:1", "", 0, false},
		{"approve:abc", "", 0, false},
	}
	for _, tc := range cases {
		trigger, id, ok := ParseCallback(tc.data)
		require.Equal(t, tc.ok, ok, tc.data)
		require.Equal(t, tc.trigger, trigger, tc.data)
		require.Equal(t, tc.id, id, tc.data)
	}
}

func TestDecided(t *testing.T) {
	t.Parallel()
	require.True(t, Decided(nil))
	require.True(t, Decided(&domain.TransportError{Recipient: 1, Err: errors.New("blocked")}))
	require.False(t, Decided(domain.ErrNotAdmin))
	require.False(t, Decided(&workflow.TransitionError{From: domain.StateAccepted, Trigger: workflow.Approve}))
}
