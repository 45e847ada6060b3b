package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/foospoll/foospollbot/internal/domain"
)

type recorder struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
}

func (r *recorder) Dispatch(_ context.Context, u tgbotapi.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

type fakeStatus struct {
	pingErr error
}

func (f fakeStatus) Ping(context.Context) error { return f.pingErr }

func (f fakeStatus) Status(context.Context) (domain.Status, error) {
	return domain.Status{
		ByState: map[domain.State]int64{domain.StateVoted: 2},
		Tallies: []domain.OptionTally{{OptionID: 1, Label: "A", Votes: 2}},
	}, nil
}

func TestWebhook(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	srv := New(context.Background(), Config{WebhookPath: "/hook"}, rec, fakeStatus{}, nil)

	body := `{"update_id": 10, "message": {"message_id": 1, "from": {"id": 5, "first_name": "A"}, "chat": {"id": 5, "type": "private"}, "text": "hi"}}`
	req := httptest.NewRequest("POST", "/hook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	require.Len(t, rec.updates, 1)
	require.Equal(t, 10, rec.updates[0].UpdateID)
	require.EqualValues(t, 5, rec.updates[0].Message.From.ID)

	resp, err = srv.App().Test(httptest.NewRequest("POST", "/hook", strings.NewReader("{")))
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)
	require.Len(t, rec.updates, 1)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	resp, err := New(context.Background(), Config{}, nil, fakeStatus{}, nil).App().Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	down := New(context.Background(), Config{}, nil, fakeStatus{pingErr: errors.New("db down")}, nil)
	resp, err = down.App().Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	require.Equal(t, 503, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	disabled := New(context.Background(), Config{}, nil, fakeStatus{}, nil)
	resp, err := disabled.App().Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	require.Equal(t, 404, resp.StatusCode)

	srv := New(context.Background(), Config{StatusToken: "s3cret"}, nil, fakeStatus{}, nil)

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = srv.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, 401, resp.StatusCode)

	req = httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = srv.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var got statusJSON
	require.NoError(t, json.Unmarshal(raw, &got))
	require.EqualValues(t, 2, got.Applicants["voted"])
	require.Equal(t, []tallyJSON{{OptionID: 1, Label: "A", Votes: 2}}, got.Tallies)
}
