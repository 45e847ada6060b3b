package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foospoll/foospollbot/internal/access"
	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/notify"
	"github.com/foospoll/foospollbot/internal/testutil"
)

// gauge tracks how many sends are in flight at once.
type gauge struct {
	*testutil.Sender
	mu      sync.Mutex
	current int
	peak    int
}

func (g *gauge) SendMenu(ctx context.Context, chatID int64, text string, menu notify.Menu) error {
	g.mu.Lock()
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	g.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	g.mu.Lock()
	g.current--
	g.mu.Unlock()
	return g.Sender.SendMenu(ctx, chatID, text, menu)
}

func admin(t *testing.T) access.Admin {
	t.Helper()
	a, err := access.NewPolicy([]int64{1}).Authorize(1)
	require.NoError(t, err)
	return a
}

func TestDispatch_BoundedWithFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "Иван Петров", "Анна Смирнова")

	const n = 10
	for id := int64(100); id < 100+n; id++ {
		testutil.SeedApplicant(t, store, id, domain.StateAccepted)
	}
	testutil.SeedApplicant(t, store, 500, domain.StateInReview)

	sender := &gauge{Sender: testutil.NewSender()}
	sender.FailFor(103)

	d := New(store, sender, 3, 5*time.Millisecond, nil)
	report, err := d.Dispatch(ctx, admin(t))
	require.NoError(t, err)

	require.Len(t, report.Results, n)
	require.Equal(t, n-1, report.Count(Sent))
	require.Equal(t, 1, report.Count(Failed))
	require.LessOrEqual(t, sender.peak, 3)

	for id := int64(100); id < 100+n; id++ {
		p, err := store.Profile(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.StateVoting, p.State, "applicant %d", id)
		if id == 103 {
			continue
		}
		msgs := sender.To(id)
		require.Len(t, msgs, 1)
		require.Equal(t, Ballot(options), msgs[0].Menu)
	}

	p, err := store.Profile(ctx, 500)
	require.NoError(t, err)
	require.Equal(t, domain.StateInReview, p.State)
	require.Empty(t, sender.To(500))
}

func TestDispatch_SecondRunSkipsNothingNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	testutil.SeedOptions(t, store, "A")
	testutil.SeedApplicant(t, store, 1, domain.StateAccepted)

	sender := testutil.NewSender()
	d := New(store, sender, 3, 0, nil)

	report, err := d.Dispatch(ctx, admin(t))
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(Sent))

	report, err = d.Dispatch(ctx, admin(t))
	require.NoError(t, err)
	require.Empty(t, report.Results)
	require.Len(t, sender.To(1), 1)
}

func TestDispatch_NoOptions(t *testing.T) {
	t.Parallel()
	store := testutil.NewStore(t)
	testutil.SeedApplicant(t, store, 1, domain.StateAccepted)

	d := New(store, testutil.NewSender(), 3, 0, nil)
	_, err := d.Dispatch(context.Background(), admin(t))
	require.ErrorIs(t, err, domain.ErrNoVoteOptions)

	p, err := store.Profile(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, domain.StateAccepted, p.State)
}

func TestDispatch_RequiresCapability(t *testing.T) {
	t.Parallel()
	d := New(testutil.NewStore(t), testutil.NewSender(), 3, 0, nil)
	_, err := d.Dispatch(context.Background(), access.Admin{})
	require.ErrorIs(t, err, domain.ErrNotAdmin)
}

func TestDeliver_SkipsChangedState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	testutil.SeedApplicant(t, store, 7, domain.StateVoted)
	sender := testutil.NewSender()

	d := New(store, sender, 3, 0, nil)
	res := d.deliver(ctx, 7, Ballot([]domain.VoteOption{{ID: 1, Label: "A"}}))
	require.Equal(t, Skipped, res.Outcome)
	require.ErrorIs(t, res.Err, domain.ErrTransitionRejected)
	require.Empty(t, sender.To(7))
}

func TestResend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	testutil.SeedOptions(t, store, "A", "B")
	testutil.SeedApplicant(t, store, 8, domain.StateVoting)
	testutil.SeedApplicant(t, store, 9, domain.StateAccepted)
	sender := testutil.NewSender()
	d := New(store, sender, 3, 0, nil)

	require.NoError(t, d.Resend(ctx, admin(t), 8))
	require.Len(t, sender.To(8), 1)
	require.ErrorIs(t, d.Resend(ctx, admin(t), 9), domain.ErrTransitionRejected)
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	id, ok := ParseCallback("vote:42")
	require.True(t, ok)
	require.EqualValues(t, 42, id)

	for _, bad := range []string{"vote:", "vote:x", "vote:0", "approve:1", ""} {
		_, ok := ParseCallback(bad)
		require.False(t, ok, bad)
	}
}

func TestReport_String(t *testing.T) {
	t.Parallel()
	r := Report{Results: []Result{{Outcome: Sent}, {Outcome: Sent}, {Outcome: Skipped}, {Outcome: Failed}}}
	require.Equal(t, "отправлено: 2, пропущено: 1, ошибок: 1", r.String())
}
