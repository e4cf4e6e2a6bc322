package sub

import (
	"net/url"
	"strings"

	"github.com/John-Robertt/spider-clash/internal/model"
)

// decodeUserinfoURI covers vless:// and trojan://, which share the
// <credential>@<host>:<port>?<params>#<name> layout.
func decodeUserinfoURI(scheme model.Scheme, link string) model.Node {
	u, err := url.Parse(link)
	if err != nil {
		// Unparseable query/fragment: keep the node for re-export only.
		return model.Node{Scheme: scheme, Raw: link, Transport: map[string]any{}}
	}

	node := model.Node{
		Scheme:      scheme,
		DisplayName: strings.TrimSpace(u.Fragment),
		Transport:   map[string]any{},
		Raw:         link,
	}
	if u.User != nil {
		node.Identifier = u.User.Username()
	}

	if u.Host != "" {
		if server, port, err := parseHostPort(u.Host); err == nil {
			node.Address, node.Port = server, port
		}
	}

	q := u.Query()
	for _, k := range []string{"type", "security", "sni", "path", "host", "flow", "encryption", "fp", "pbk", "sid", "alpn", "serviceName"} {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			node.Transport[k] = v
		}
	}
	return node
}
