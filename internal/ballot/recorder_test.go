package ballot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/storage"
	"github.com/foospoll/foospollbot/internal/testutil"
)

func sequence(codes ...string) CodeFunc {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func totalVotes(t *testing.T, s *storage.Store) int64 {
	t.Helper()
	tallies, err := s.Tallies(context.Background())
	require.NoError(t, err)
	var n int64
	for _, tl := range tallies {
		n += tl.Votes
	}
	return n
}

func TestRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "Иван Петров", "Анна Смирнова")
	testutil.SeedApplicant(t, store, 1, domain.StateVoting)
	sender := testutil.NewSender()

	rec, err := New(store, sender, nil, 0, nil).Record(ctx, 1, options[1].ID, 77)
	require.NoError(t, err)
	require.Len(t, rec.SecretCode, DefaultCodeLength)
	require.Equal(t, options[1].ID, rec.OptionID)

	p, err := store.Profile(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, domain.StateVoted, p.State)

	last, ok := sender.Last(1)
	require.True(t, ok)
	require.Contains(t, last.Text, rec.SecretCode)
	require.Contains(t, last.Text, "Анна Смирнова")
	require.Equal(t, []int{77}, sender.Cleared)
}

func TestRecord_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "A")
	testutil.SeedApplicant(t, store, 2, domain.StateVoting)
	r := New(store, testutil.NewSender(), nil, 0, nil)

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Record(ctx, 2, options[0].ID, 0)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrTransitionRejected), errors.Is(err, domain.ErrDuplicateVote):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.EqualValues(t, 1, totalVotes(t, store))
}

func TestRecord_RetriesCodeCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "A")
	testutil.SeedApplicant(t, store, 3, domain.StateVoting)
	testutil.SeedApplicant(t, store, 4, domain.StateVoting)

	_, err := New(store, testutil.NewSender(), sequence("TAKEN000"), 1, nil).Record(ctx, 3, options[0].ID, 0)
	require.NoError(t, err)

	rec, err := New(store, testutil.NewSender(), sequence("TAKEN000", "TAKEN000", "FRESH111"), 5, nil).
		Record(ctx, 4, options[0].ID, 0)
	require.NoError(t, err)
	require.Equal(t, "FRESH111", rec.SecretCode)
	require.EqualValues(t, 2, totalVotes(t, store))
}

func TestRecord_CodesExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "A")
	testutil.SeedApplicant(t, store, 5, domain.StateVoting)
	testutil.SeedApplicant(t, store, 6, domain.StateVoting)

	_, err := New(store, testutil.NewSender(), sequence("SAMECODE"), 1, nil).Record(ctx, 5, options[0].ID, 0)
	require.NoError(t, err)

	sender := testutil.NewSender()
	_, err = New(store, sender, sequence("SAMECODE"), 3, nil).Record(ctx, 6, options[0].ID, 0)
	require.ErrorIs(t, err, ErrCodesExhausted)

	p, err := store.Profile(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, domain.StateVoting, p.State)
	require.Empty(t, sender.To(6))
	require.EqualValues(t, 1, totalVotes(t, store))
}

func TestRecord_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "A")
	testutil.SeedApplicant(t, store, 7, domain.StateVoting)
	testutil.SeedApplicant(t, store, 8, domain.StateAccepted)
	r := New(store, testutil.NewSender(), nil, 0, nil)

	_, err := r.Record(ctx, 7, 9999, 0)
	require.ErrorIs(t, err, domain.ErrUnknownOption)
	p, err := store.Profile(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, domain.StateVoting, p.State)

	_, err = r.Record(ctx, 8, options[0].ID, 0)
	require.ErrorIs(t, err, domain.ErrTransitionRejected)

	_, err = r.Record(ctx, 404, options[0].ID, 0)
	require.ErrorIs(t, err, domain.ErrApplicantNotFound)

	require.Zero(t, totalVotes(t, store))
}

func TestRecord_DeliveryFailureKeepsVote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testutil.NewStore(t)
	options := testutil.SeedOptions(t, store, "A")
	testutil.SeedApplicant(t, store, 9, domain.StateVoting)
	sender := testutil.NewSender()
	sender.FailFor(9)

	rec, err := New(store, sender, nil, 0, nil).Record(ctx, 9, options[0].ID, 5)
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	require.NotEmpty(t, rec.SecretCode)

	p, err := store.Profile(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, domain.StateVoted, p.State)
}

func TestRandomCodes(t *testing.T) {
	t.Parallel()

	gen := RandomCodes(12)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c, err := gen()
		require.NoError(t, err)
		require.Len(t, c, 12)
		for _, r := range c {
			require.Contains(t, alphabet, string(r))
		}
		seen[c] = true
	}
	require.Greater(t, len(seen), 190)
}
