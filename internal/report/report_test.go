package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bahmany/censorship-hunter-sub001/internal/model"
)

func TestWebhookSendsCyclePayload(t *testing.T) {
	var mu sync.Mutex
	var received cyclePayload
	done := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		json.NewDecoder(r.Body).Decode(&received)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	webhook := NewWebhook(srv.URL)
	webhook.Send(context.Background(), model.CycleReport{
		CycleNumber: 3,
		StartedAt:   time.Now(),
		Duration:    2 * time.Second,
		RawCount:    500,
		SilverCount: 40,
		Gold:        make([]model.BenchResult, 10),
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("webhook was never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if received.CycleNumber != 3 || received.RawCount != 500 || received.GoldCount != 10 || received.SilverCount != 40 {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookEmptyURLIsNoop(t *testing.T) {
	webhook := NewWebhook("")
	// Must not panic or block.
	webhook.Send(context.Background(), model.CycleReport{CycleNumber: 1})
}

func TestNoopReporterDiscardsReport(t *testing.T) {
	var r Reporter = Noop{}
	r.Send(context.Background(), model.CycleReport{CycleNumber: 1})
}
