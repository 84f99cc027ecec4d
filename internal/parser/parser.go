// Package parser turns one proxy URI into a model.ParsedConfig.
//
// Parsing is pure, idempotent and never returns an error: malformed or
// unrecognised input simply yields nil (spec §4.1). The per-scheme
// sub-parsers and the three-way base64 recovery strategy are grounded in
// the teacher's ProtocolParser (parser.go) and in the vpn_checker parser
// retrieved alongside it, generalized to the spec's exact field set.
package parser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/bahmany/censorship-hunter-sub001/internal/model"
)

var printableStrip = regexp.MustCompile(`[^\x20-\x7E]`)

// Parser parses raw URIs into model.ParsedConfig values.
type Parser struct{}

// New creates a Parser. Parser holds no state; it exists as a type so
// callers can be mocked and so future per-scheme options have a home.
func New() *Parser {
	return &Parser{}
}

// Parse detects the scheme and dispatches to the matching sub-parser.
// Never returns an error; unparseable input yields nil.
func (p *Parser) Parse(uri string) *model.ParsedConfig {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}

	idx := strings.Index(uri, "://")
	if idx < 0 {
		return nil
	}
	scheme := strings.ToLower(uri[:idx])

	var cfg *model.ParsedConfig
	switch scheme {
	case "vmess":
		cfg = p.parseVMess(uri)
	case "vless":
		cfg = p.parseVLESS(uri)
	case "trojan":
		cfg = p.parseTrojan(uri)
	case "ss", "shadowsocks":
		cfg = p.parseShadowsocks(uri)
	default:
		return nil
	}

	if cfg == nil {
		return nil
	}
	if !validHostPort(cfg.Host, cfg.Port) || cfg.Identity == "" {
		return nil
	}

	cfg.URI = uri
	cfg.PS = sanitizePS(cfg.PS)
	return cfg
}

func validHostPort(host string, port int) bool {
	if host == "" || host == "0.0.0.0" {
		return false
	}
	return port >= 1 && port <= 65535
}

func sanitizePS(ps string) string {
	if decoded, err := url.QueryUnescape(ps); err == nil {
		ps = decoded
	}
	ps = printableStrip.ReplaceAllString(ps, "")
	ps = strings.TrimSpace(ps)
	if ps == "" {
		return "Unknown"
	}
	return ps
}

// decodeBase64Repaired decodes URL-safe base64 with padding auto-repair,
// falling back to standard-alphabet decoding (spec §4.1: "auto repaired").
func decodeBase64Repaired(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	padded := s
	if m := len(padded) % 4; m != 0 {
		padded += strings.Repeat("=", 4-m)
	}
	if b, err := base64.URLEncoding.DecodeString(padded); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(padded); err == nil {
		return b, nil
	}
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// ---- vmess ----------------------------------------------------------------

func (p *Parser) parseVMess(uri string) *model.ParsedConfig {
	payload := strings.TrimPrefix(uri, "vmess://")
	if idx := strings.IndexByte(payload, '#'); idx >= 0 {
		payload = payload[:idx]
	}

	raw, err := decodeBase64Repaired(payload)
	if err != nil {
		return nil
	}

	var j map[string]any
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil
	}

	add, _ := j["add"].(string)
	if add == "" {
		return nil
	}

	port, ok := coerceInt(j["port"])
	if !ok {
		return nil
	}

	id, _ := j["id"].(string)
	if id == "" {
		return nil
	}

	aid, _ := coerceInt(j["aid"])
	scy, _ := j["scy"].(string)
	if scy == "" {
		scy = "auto"
	}
	net_, _ := j["net"].(string)
	if net_ == "" {
		net_ = "tcp"
	}
	tls, _ := j["tls"].(string)
	sni, _ := j["sni"].(string)
	wsPath, _ := j["path"].(string)
	host, _ := j["host"].(string)
	ps, _ := j["ps"].(string)

	outbound := map[string]any{
		"protocol": "vmess",
		"settings": map[string]any{
			"vnext": []any{map[string]any{
				"address": add,
				"port":    port,
				"users": []any{map[string]any{
					"id":       id,
					"alterId":  aid,
					"security": scy,
				}},
			}},
		},
		"streamSettings": vmessStreamSettings(net_, tls, sni, wsPath, host),
	}

	return &model.ParsedConfig{
		Scheme:   model.SchemeVMess,
		Host:     add,
		Port:     port,
		Identity: id,
		PS:       ps,
		Outbound: outbound,
	}
}

func vmessStreamSettings(network, tls, sni, wsPath, host string) map[string]any {
	ss := map[string]any{"network": network}
	if tls == "tls" {
		tlsSettings := map[string]any{"allowInsecure": false}
		if sni != "" {
			tlsSettings["serverName"] = sni
		}
		ss["security"] = "tls"
		ss["tlsSettings"] = tlsSettings
	}
	if network == "ws" {
		wsSettings := map[string]any{}
		if wsPath != "" {
			wsSettings["path"] = wsPath
		}
		if host != "" {
			wsSettings["headers"] = map[string]any{"Host": host}
		}
		ss["wsSettings"] = wsSettings
	}
	return ss
}

// coerceInt accepts a JSON number or numeric string, per spec §4.1
// ("port is sometimes a string").
func coerceInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ---- vless / trojan (classic userinfo URL form) ---------------------------

func (p *Parser) parseVLESS(uri string) *model.ParsedConfig {
	return p.parseUserinfoURL(uri, model.SchemeVLESS)
}

func (p *Parser) parseTrojan(uri string) *model.ParsedConfig {
	return p.parseUserinfoURL(uri, model.SchemeTrojan)
}

func (p *Parser) parseUserinfoURL(raw string, scheme model.Scheme) *model.ParsedConfig {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return nil
	}

	identity := u.User.Username()
	if identity == "" {
		return nil
	}

	host := u.Hostname()
	if host == "" {
		return nil
	}
	// Bracketed IPv6 hosts (spec §4.1 edge case): url.Parse already
	// strips the brackets via Hostname(); keep them for display/outbound.
	displayHost := host
	if ip := net.ParseIP(host); ip != nil && strings.Contains(host, ":") {
		displayHost = "[" + host + "]"
	}

	portStr := u.Port()
	defaultPort := 443
	port := defaultPort
	if portStr != "" {
		if n, err := strconv.Atoi(portStr); err == nil {
			port = n
		}
	}

	q := u.Query()
	security := q.Get("security")
	if security == "" {
		security = "none"
	}
	transport := q.Get("type")
	if transport == "" {
		transport = "tcp"
	}

	name := u.Fragment
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}

	streamSettings := map[string]any{"network": transport}
	switch security {
	case "reality":
		if q.Get("pbk") == "" {
			// spec §4.1: reality requires pbk, otherwise fall through to tls.
			security = "tls"
		} else {
			streamSettings["security"] = "reality"
			streamSettings["realitySettings"] = map[string]any{
				"serverName": q.Get("sni"),
				"fingerprint": firstNonEmpty(q.Get("fp"), "chrome"),
				"publicKey":   q.Get("pbk"),
				"shortId":     q.Get("sid"),
			}
		}
	}
	if security == "tls" {
		streamSettings["security"] = "tls"
		streamSettings["tlsSettings"] = map[string]any{
			"serverName":    q.Get("sni"),
			"fingerprint":   q.Get("fp"),
			"allowInsecure": false,
		}
	}

	switch transport {
	case "ws":
		streamSettings["wsSettings"] = map[string]any{
			"path": q.Get("path"),
			"headers": map[string]any{
				"Host": firstNonEmpty(q.Get("host"), host),
			},
		}
	case "grpc":
		streamSettings["grpcSettings"] = map[string]any{
			"serviceName": q.Get("serviceName"),
		}
	case "splithttp":
		streamSettings["splithttpSettings"] = map[string]any{
			"path": q.Get("path"),
			"host": q.Get("host"),
		}
	}

	protocol := "vless"
	settings := map[string]any{
		"vnext": []any{map[string]any{
			"address": displayHost,
			"port":    port,
			"users": []any{map[string]any{
				"id":         identity,
				"encryption": firstNonEmpty(q.Get("encryption"), "none"),
				"flow":       q.Get("flow"),
			}},
		}},
	}
	if scheme == model.SchemeTrojan {
		protocol = "trojan"
		settings = map[string]any{
			"servers": []any{map[string]any{
				"address":  displayHost,
				"port":     port,
				"password": identity,
			}},
		}
	}

	outbound := map[string]any{
		"protocol":       protocol,
		"settings":       settings,
		"streamSettings": streamSettings,
	}

	return &model.ParsedConfig{
		Scheme:   scheme,
		Host:     host,
		Port:     port,
		Identity: identity,
		PS:       name,
		Outbound: outbound,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---- shadowsocks ------------------------------------------------------------

// ssPortDigits greedily extracts the leading digit run, ignoring trailing
// garbage after the port (spec §4.1).
var ssPortDigits = regexp.MustCompile(`^(\d+)`)

func (p *Parser) parseShadowsocks(uri string) *model.ParsedConfig {
	var body string
	switch {
	case strings.HasPrefix(uri, "shadowsocks://"):
		body = strings.TrimPrefix(uri, "shadowsocks://")
	default:
		body = strings.TrimPrefix(uri, "ss://")
	}

	var fragment string
	if idx := strings.IndexByte(body, '#'); idx >= 0 {
		fragment = body[idx+1:]
		body = body[:idx]
	}
	if idx := strings.IndexByte(body, '?'); idx >= 0 {
		body = body[:idx]
	}

	if cfg := trySSShape(body); cfg != nil {
		return finishSS(cfg, fragment)
	}

	// userinfo may itself be base64 of "method:password"
	if at := strings.LastIndexByte(body, '@'); at >= 0 {
		userinfo, hostport := body[:at], body[at+1:]
		if decoded, err := decodeBase64Repaired(userinfo); err == nil {
			if cfg := trySSShape(string(decoded) + "@" + hostport); cfg != nil {
				return finishSS(cfg, fragment)
			}
		}
	}

	// entire core may be base64-encoded "method:password@host:port"
	if decoded, err := decodeBase64Repaired(body); err == nil {
		if cfg := trySSShape(string(decoded)); cfg != nil {
			return finishSS(cfg, fragment)
		}
	}

	return nil
}

type ssShape struct {
	method, password, host string
	port                   int
}

// trySSShape parses "method:password@host:port", tolerating garbage after
// the port digits.
func trySSShape(s string) *ssShape {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return nil
	}
	methodPass, hostport := s[:at], s[at+1:]

	colon := strings.IndexByte(methodPass, ':')
	if colon < 0 {
		return nil
	}
	method, password := methodPass[:colon], methodPass[colon+1:]
	if method == "" || password == "" {
		return nil
	}

	hc := strings.LastIndexByte(hostport, ':')
	if hc < 0 {
		return nil
	}
	host := hostport[:hc]
	portPart := hostport[hc+1:]

	m := ssPortDigits.FindString(portPart)
	if m == "" {
		return nil
	}
	port, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}

	return &ssShape{method: method, password: password, host: host, port: port}
}

func finishSS(shape *ssShape, fragment string) *model.ParsedConfig {
	identity := fmt.Sprintf("%s:%s", shape.method, shape.password)

	outbound := map[string]any{
		"protocol": "shadowsocks",
		"settings": map[string]any{
			"servers": []any{map[string]any{
				"address":  shape.host,
				"port":     shape.port,
				"method":   shape.method,
				"password": shape.password,
			}},
		},
	}

	return &model.ParsedConfig{
		Scheme:   model.SchemeShadowsocks,
		Host:     shape.host,
		Port:     shape.port,
		Identity: identity,
		PS:       fragment,
		Outbound: outbound,
	}
}
