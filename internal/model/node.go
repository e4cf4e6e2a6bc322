package model

import (
	"strconv"
	"strings"
)

type Scheme string

const (
	SchemeVmess       Scheme = "vmess"
	SchemeVless       Scheme = "vless"
	SchemeShadowsocks Scheme = "shadowsocks"
	SchemeTrojan      Scheme = "trojan"
	SchemeClashProxy  Scheme = "clashProxy"
	SchemeUnknown     Scheme = "unknown"
)

// LatencyUnreachable marks a node that was probed without a successful connect,
// or that could not be probed at all.
const LatencyUnreachable = -1

// Node is the canonical record of one proxy endpoint.
//
// A Node is either DecodeError-tagged (terminal: it only counts towards
// statistics) or carries a known Scheme. Raw is always populated.
type Node struct {
	Scheme Scheme

	// Address/Port may be absent when the link form does not expose an
	// authority. Such nodes are re-exported but never probed.
	Address string
	Port    int

	// Identifier is the scheme-specific credential (uuid / password).
	Identifier  string
	DisplayName string

	// Transport holds the fields needed to re-serialize the node
	// (net, tls, path, host, aid, scy, cipher ...). For clashProxy nodes it is
	// the original proxy mapping.
	Transport map[string]any

	// Raw is the exact original link text.
	Raw string

	// Source is the URL the link was found at. Logging only.
	Source string

	DecodeError *AppError

	// LatencyMs: 0 = not probed yet, -1 = unreachable, >0 = average connect time.
	LatencyMs int
}

// Failed reports whether decoding the node failed.
func (n Node) Failed() bool { return n.DecodeError != nil }

// Probeable reports whether the node has a usable TCP target.
func (n Node) Probeable() bool {
	return !n.Failed() && n.Address != "" && n.Port >= 1 && n.Port <= 65535
}

// HostPort returns "address:port" with IPv6 brackets, or "" if not probeable.
func (n Node) HostPort() string {
	if !n.Probeable() {
		return ""
	}
	host := n.Address
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(n.Port)
}

// Key is the dedup identity: (scheme, address, port, identifier).
// It returns "" for nodes that cannot be keyed (decode errors, no endpoint).
func (n Node) Key() string {
	if !n.Probeable() {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(n.Scheme))
	b.WriteByte('\n')
	b.WriteString(strings.ToLower(strings.Trim(n.Address, "[]")))
	b.WriteByte('\n')
	b.WriteString(strconv.Itoa(n.Port))
	b.WriteByte('\n')
	b.WriteString(n.Identifier)
	return b.String()
}

// TransportString returns Transport[key] rendered as a string ("" when absent).
func (n Node) TransportString(key string) string {
	v, ok := n.Transport[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
