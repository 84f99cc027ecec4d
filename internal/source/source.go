// Package source adapts external URI collaborators (spec §5, "source
// fetches") to a single Source contract. The spec deliberately types this
// contract as "an iterable of URIs" to forbid the set/list shape mismatch
// bug it calls out in its Open Questions; every implementation here returns
// a plain []string and never an error the orchestrator must special-case —
// transient failures are absorbed to an empty list (spec §4.7, "individual
// source failures are absorbed to empty lists, never abort the cycle").
package source

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/bahmany/censorship-hunter-sub001/internal/config"
)

// Source fetches a batch of candidate URIs. Implementations must never
// return an error that aborts the cycle; log and return an empty slice
// instead (mirrors the teacher's fetchFromSource swallowing per-source
// errors into the aggregate rather than failing FetchAndProcessConfigs).
type Source interface {
	Name() string
	Fetch(ctx context.Context) []string
}

// HTTPListSource fetches a newline-separated (optionally base64-encoded)
// URI list over HTTP, grounded in the teacher's Aggregator.httpClient /
// fetchFromSource / parseBase64Configs trio (aggregator.go), adapted from
// populating *Config structs to simply returning raw URI strings — parsing
// into model.ParsedConfig is internal/parser's job, not the source's.
type HTTPListSource struct {
	name    string
	url     string
	client  *resty.Client
	timeout time.Duration
}

// NewHTTPListSource builds a source from one config.Source entry, reusing
// a shared resty client the way the teacher's Aggregator does (one
// httpClient for every ConfigSource).
func NewHTTPListSource(client *resty.Client, src config.Source) *HTTPListSource {
	return &HTTPListSource{
		name:    src.Name,
		url:     src.URL,
		client:  client,
		timeout: src.TimeoutDuration(),
	}
}

// NewHTTPClient builds the shared resty.Client every HTTPListSource uses,
// with the same retry/timeout posture as the teacher's Aggregator.httpClient.
func NewHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(8 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second)
}

func (s *HTTPListSource) Name() string { return s.name }

// Fetch performs one bounded GET and splits the body into candidate URI
// lines, trying base64-decode first (spec: "the raw-list format may itself
// be base64-encoded") and falling back to the raw body when it isn't.
func (s *HTTPListSource) Fetch(ctx context.Context) []string {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(false).
		Get(s.url)
	if err != nil {
		log.Warn().Str("source", s.name).Err(err).Msg("source: fetch failed")
		return nil
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		log.Warn().Str("source", s.name).Int("status", resp.StatusCode()).Msg("source: unexpected status")
		return nil
	}

	body := resp.Body()
	text := string(body)
	if decoded, ok := tryBase64Decode(text); ok {
		text = decoded
	}

	var uris []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		uris = append(uris, line)
	}
	return uris
}

func tryBase64Decode(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(padBase64(trimmed)); err == nil {
			if looksLikeURIList(decoded) {
				return string(decoded), true
			}
		}
	}
	return "", false
}

func padBase64(s string) string {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

func looksLikeURIList(b []byte) bool {
	for _, scheme := range []string{"vmess://", "vless://", "trojan://", "ss://", "shadowsocks://"} {
		if strings.Contains(string(b), scheme) {
			return true
		}
	}
	return false
}

// FanOut runs every source concurrently and returns the set-union of their
// results, typed as a plain []string from the start (spec's fix for the
// "Total raw configs: 0" Open Question: no place for a set/list mismatch to
// hide, since every Source already returns a slice and the caller unions
// them explicitly).
func FanOut(ctx context.Context, sources []Source) []string {
	type result struct {
		name string
		uris []string
	}
	results := make(chan result, len(sources))

	for _, s := range sources {
		go func(s Source) {
			results <- result{name: s.Name(), uris: s.Fetch(ctx)}
		}(s)
	}

	seen := make(map[string]struct{})
	var union []string
	for range sources {
		r := <-results
		log.Info().Str("source", r.name).Int("count", len(r.uris)).Msg("source: fetched")
		for _, u := range r.uris {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			union = append(union, u)
		}
	}
	return union
}
