// Package report delivers a CycleReport to an external collaborator
// webhook, fire-and-forget (spec §4.7: "invokes the reporter" as the last,
// non-blocking step of each cycle). Grounded in the teacher's resty usage
// (Aggregator.httpClient in aggregator.go) — a single shared client, POSTing
// JSON, with failures logged and swallowed rather than propagated, since a
// reporting outage must never stall or abort a cycle.
package report

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/bahmany/censorship-hunter-sub001/internal/model"
)

// Reporter delivers a cycle summary. Send must never block the caller for
// long or propagate a delivery failure as a cycle-aborting error.
type Reporter interface {
	Send(ctx context.Context, report model.CycleReport)
}

// Webhook posts the report as JSON to a configured URL.
type Webhook struct {
	client *resty.Client
	url    string
}

// NewWebhook builds a Webhook reporter. An empty url yields a Reporter
// whose Send is a no-op (spec: reporting is optional).
func NewWebhook(url string) *Webhook {
	client := resty.New().SetTimeout(5 * time.Second).SetRetryCount(1)
	return &Webhook{client: client, url: url}
}

// Send fires the POST in a goroutine and returns immediately; delivery
// failures are logged, never returned (spec: fire-and-forget).
func (w *Webhook) Send(ctx context.Context, report model.CycleReport) {
	if w.url == "" {
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := w.client.R().
			SetContext(sendCtx).
			SetBody(cycleReportPayload(report)).
			Post(w.url)
		if err != nil {
			log.Warn().Err(err).Msg("report: webhook delivery failed")
			return
		}
		if resp.StatusCode() >= 300 {
			log.Warn().Int("status", resp.StatusCode()).Msg("report: webhook rejected payload")
		}
	}()
}

type cyclePayload struct {
	CycleNumber int    `json:"cycle_number"`
	StartedAt   int64  `json:"started_at"`
	DurationMS  int64  `json:"duration_ms"`
	RawCount    int    `json:"raw_count"`
	GoldCount   int    `json:"gold_count"`
	SilverCount int    `json:"silver_count"`
}

func cycleReportPayload(r model.CycleReport) cyclePayload {
	return cyclePayload{
		CycleNumber: r.CycleNumber,
		StartedAt:   r.StartedAt.Unix(),
		DurationMS:  r.Duration.Milliseconds(),
		RawCount:    r.RawCount,
		GoldCount:   len(r.Gold),
		SilverCount: r.SilverCount,
	}
}

// Noop is a Reporter that discards every report, used in tests and when no
// HUNTER_REPORT_URL is configured.
type Noop struct{}

func (Noop) Send(context.Context, model.CycleReport) {}
