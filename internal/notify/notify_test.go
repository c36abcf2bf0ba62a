package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/benbjohnson/clock"
)

type recorder struct {
	got []Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok, failing := &recorder{}, &recorder{err: boom}

	err := Multi{ok, NewLog(logger.Nop()), failing, Nop{}}.Notify(context.Background(), Notification{Kind: OrderFilled})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Errorf("not every notifier was called")
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	clk := clock.NewMock()
	clk.Set(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	w := NewWebhook(srv.URL, clk, logger.Nop())
	defer w.Close()

	n := Notification{Kind: MilestoneReached, Title: "Milestone reached", Data: map[string]any{"percentage": 10.0}}
	if err := w.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got.Kind != MilestoneReached || !got.Timestamp.Equal(clk.Now()) {
		t.Errorf("received %+v", got)
	}
}

func TestWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"downstream offline"}`))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, clock.New(), logger.Nop())
	defer w.Close()

	if err := w.Notify(context.Background(), Notification{Kind: OrderFilled}); err == nil {
		t.Fatal("expected error")
	}
}
