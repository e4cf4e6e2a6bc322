package sub

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/spider-clash/internal/extract"
	"github.com/John-Robertt/spider-clash/internal/model"
)

// decodeSS handles both shadowsocks share forms:
//
//	SIP002: ss://<b64(method:password)>@<host>:<port>[/][?plugin=...][#name]
//	legacy: ss://<b64(method:password@host:port)>[#name]
//
// When no authority can be recovered the node keeps its scheme with an empty
// address: it is still re-exported, just never probed.
func decodeSS(link string) model.Node {
	_, rest, _ := strings.Cut(link, "://")

	withoutFrag, frag, hasFrag := strings.Cut(rest, "#")
	name := ""
	if hasFrag {
		if decoded, err := url.PathUnescape(frag); err == nil {
			name = strings.TrimSpace(decoded)
		} else {
			name = strings.TrimSpace(frag)
		}
	}

	withoutQuery, query, _ := strings.Cut(withoutFrag, "?")
	if withoutQuery == "" {
		return failed(model.SchemeShadowsocks, link, "ss:// 后缺少内容", nil)
	}

	node := model.Node{
		Scheme:      model.SchemeShadowsocks,
		DisplayName: name,
		Transport:   map[string]any{},
		Raw:         link,
	}
	if plugin, opts := parsePlugin(query); plugin != "" {
		node.Transport["plugin"] = plugin
		node.Transport["plugin-opts"] = opts
	}

	if userB64, hostPart, ok := strings.Cut(withoutQuery, "@"); ok {
		hostPart = strings.TrimSuffix(hostPart, "/")
		if method, password, err := decodeMethodPassword(userB64); err == nil {
			node.Transport["cipher"] = method
			node.Identifier = password
		}
		if server, port, err := parseHostPort(hostPart); err == nil {
			node.Address, node.Port = server, port
		}
		return node
	}

	decoded, err := extract.DecodeBase64(strings.TrimSuffix(withoutQuery, "/"))
	if err != nil || !utf8.Valid(decoded) {
		return node
	}
	s := string(decoded)
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return node
	}
	if colon := strings.IndexByte(s[:at], ':'); colon > 0 {
		node.Transport["cipher"] = strings.TrimSpace(s[:colon])
		node.Identifier = strings.TrimSpace(s[colon+1 : at])
	}
	if server, port, err := parseHostPort(s[at+1:]); err == nil {
		node.Address, node.Port = server, port
	}
	return node
}

// parsePlugin reads the SIP002 "plugin" query value: name;k=v;k=v.
// net/url.ParseQuery rejects the bare semicolons, so the query is split by hand.
func parsePlugin(query string) (string, map[string]string) {
	for _, part := range strings.Split(query, "&") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k != "plugin" {
			continue
		}
		value, err := url.PathUnescape(v)
		if err != nil {
			return "", nil
		}
		segs := strings.Split(value, ";")
		name := strings.TrimSpace(segs[0])
		if name == "" {
			return "", nil
		}
		opts := make(map[string]string, len(segs)-1)
		for _, seg := range segs[1:] {
			key, val, found := strings.Cut(seg, "=")
			key = strings.TrimSpace(key)
			if !found || key == "" {
				continue
			}
			opts[key] = val
		}
		return name, opts
	}
	return "", nil
}

func decodeMethodPassword(userB64 string) (string, string, error) {
	if unescaped, err := url.PathUnescape(userB64); err == nil {
		userB64 = unescaped
	}
	// SIP002 allows plain "method:password" for AEAD-2022 ciphers.
	if method, password, ok := strings.Cut(userB64, ":"); ok && method != "" && password != "" {
		return method, password, nil
	}
	decoded, err := extract.DecodeBase64(userB64)
	if err != nil {
		return "", "", err
	}
	if !utf8.Valid(decoded) {
		return "", "", errors.New("decoded method:password is not valid utf-8")
	}
	method, password, ok := strings.Cut(string(decoded), ":")
	method = strings.TrimSpace(method)
	password = strings.TrimSpace(password)
	if !ok || method == "" || password == "" {
		return "", "", errors.New("missing method or password")
	}
	return method, password, nil
}

func parseHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if port < 1 || port > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, port, nil
}
