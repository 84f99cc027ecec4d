// Package probe implements the SOCKS5-dial-and-HTTPS-GET measurement spec
// §4.4 describes ("probe(port, testURL, timeout) -> latency_ms | Err"). It
// is used both by the benchmark engine (one probe per candidate) and the
// balancer's backend selection (one probe per candidate on a scratch port).
// Dialing goes through golang.org/x/net/proxy, the teacher's own transport
// dependency surface, rather than hand-rolling the SOCKS5 handshake the way
// other_examples' vpn_checker does.
package probe

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Prober measures latency through a local SOCKS5 listener.
type Prober interface {
	Probe(ctx context.Context, listenPort int, testURL string, timeout time.Duration) (latencyMS int, err error)
}

// Live is the real Prober: SOCKS5 CONNECT through 127.0.0.1:listenPort,
// then a manual HTTPS GET timed to the first response line.
type Live struct{}

// NewLive returns the production SOCKS5+HTTPS prober.
func NewLive() *Live { return &Live{} }

func (Live) Probe(ctx context.Context, listenPort int, testURL string, timeout time.Duration) (int, error) {
	u, err := url.Parse(testURL)
	if err != nil {
		return 0, fmt.Errorf("probe: invalid test url %q: %w", testURL, err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}

	socksAddr := fmt.Sprintf("127.0.0.1:%d", listenPort)
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("probe: build socks5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return 0, fmt.Errorf("probe: socks5 dialer does not support context")
	}

	start := time.Now()

	conn, err := ctxDialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return 0, fmt.Errorf("probe: socks5 connect to %s: %w", host, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return 0, fmt.Errorf("probe: tls handshake with %s: %w", host, err)
	}
	defer tlsConn.Close()

	path := u.Path
	if path == "" {
		path = "/"
	}
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\nUser-Agent: hunter-probe/1\r\n\r\n", path, host)
	if _, err := tlsConn.Write([]byte(req)); err != nil {
		return 0, fmt.Errorf("probe: write request: %w", err)
	}

	status, err := readStatusLine(tlsConn)
	if err != nil {
		return 0, fmt.Errorf("probe: read response: %w", err)
	}
	latency := time.Since(start)

	if !isSuccessStatus(status) {
		return 0, fmt.Errorf("probe: non-success status %d from %s", status, host)
	}

	return int(latency.Milliseconds()), nil
}

func isSuccessStatus(code int) bool {
	return (code >= 200 && code < 300) || code == 204
}

// readStatusLine reads the first line of an HTTP response ("HTTP/1.1 200
// OK") and returns the status code.
func readStatusLine(conn net.Conn) (int, error) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed status line %q", line)
	}
	return strconv.Atoi(fields[1])
}
