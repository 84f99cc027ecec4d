package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestServeAddrExposesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	Restarts.Inc()
	ServeAddr(ctx, "127.0.0.1:19273")
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19273/metrics")
	if err != nil {
		t.Fatalf("metrics endpoint not reachable: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "hunter_balancer_restarts_total") {
		t.Fatal("expected hunter_balancer_restarts_total in /metrics output")
	}
}

func TestServeAddrNoopWithEmptyAddr(t *testing.T) {
	ServeAddr(context.Background(), "") // must not panic or block
}
