package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/spider-clash/internal/model"
)

const (
	GroupAutoSelect = "Auto Select"
	GroupProxy      = "Proxy"
)

type ClashOptions struct {
	Port               int
	SocksPort          int
	AllowLan           bool
	Mode               string
	LogLevel           string
	ExternalController string

	// url-test group
	TestURL     string
	IntervalSec int

	// Rules are inserted before the final MATCH rule.
	Rules []model.Rule
}

func DefaultClashOptions() ClashOptions {
	return ClashOptions{
		Port:               7890,
		SocksPort:          7891,
		AllowLan:           true,
		Mode:               "Rule",
		LogLevel:           "info",
		ExternalController: "127.0.0.1:9090",
		TestURL:            "http://www.gstatic.com/generate_204",
		IntervalSec:        300,
	}
}

func (o ClashOptions) withDefaults() ClashOptions {
	d := DefaultClashOptions()
	if o.Port <= 0 {
		o.Port = d.Port
	}
	if o.SocksPort <= 0 {
		o.SocksPort = d.SocksPort
	}
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if o.TestURL == "" {
		o.TestURL = d.TestURL
	}
	if o.IntervalSec <= 0 {
		o.IntervalSec = d.IntervalSec
	}
	return o
}

type ClashDocument struct {
	Port               int          `yaml:"port"`
	SocksPort          int          `yaml:"socks-port"`
	AllowLan           bool         `yaml:"allow-lan"`
	Mode               string       `yaml:"mode"`
	LogLevel           string       `yaml:"log-level"`
	ExternalController string       `yaml:"external-controller,omitempty"`
	Proxies            []Proxy      `yaml:"proxies"`
	ProxyGroups        []ProxyGroup `yaml:"proxy-groups"`
	Rules              []string     `yaml:"rules"`
}

type ProxyGroup struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Proxies  []string `yaml:"proxies"`
	URL      string   `yaml:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty"`
}

type Field struct {
	Key   string
	Value any
}

// Proxy is one entry of the proxies list. Fields keep their insertion
// order in the rendered YAML.
type Proxy struct {
	Fields []Field
}

func (p *Proxy) set(key string, value any) {
	p.Fields = append(p.Fields, Field{Key: key, Value: value})
}

// Get returns the value stored under key, or nil.
func (p Proxy) Get(key string) any {
	for _, f := range p.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func (p Proxy) Name() string {
	s, _ := p.Get("name").(string)
	return s
}

func (p Proxy) MarshalYAML() (any, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range p.Fields {
		var v yaml.Node
		if err := v.Encode(f.Value); err != nil {
			return nil, fmt.Errorf("proxy field %q: %w", f.Key, err)
		}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}, &v)
	}
	return m, nil
}

// YAML serializes the document.
func (d *ClashDocument) YAML() ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Clash builds the routing document for nodes. Nodes that failed to decode,
// have an unknown scheme, or lack the fields their proxy type needs are left
// out. The document is valid even when no proxy survives: both groups then
// fall back to DIRECT.
func Clash(nodes []model.Node, opt ClashOptions) (*ClashDocument, error) {
	opt = opt.withDefaults()

	rules := make([]string, 0, len(opt.Rules)+1)
	for _, r := range opt.Rules {
		if r.Type == "MATCH" {
			return nil, &RenderError{
				AppError: model.AppError{
					Code:    "INVALID_RULE",
					Message: "额外规则中不允许 MATCH",
					Stage:   "render",
					Snippet: ruleToClashString(r),
				},
			}
		}
		rules = append(rules, ruleToClashString(r))
	}
	rules = append(rules, "MATCH,"+GroupProxy)

	proxies := make([]Proxy, 0, len(nodes))
	bases := make([]string, 0, len(nodes))
	for _, n := range nodes {
		p, ok := toProxy(n)
		if !ok {
			continue
		}
		proxies = append(proxies, p)
		bases = append(bases, baseName(n))
	}

	names := uniqueNames(bases, "DIRECT", "REJECT", GroupAutoSelect, GroupProxy)
	for i := range proxies {
		proxies[i].Fields[0].Value = names[i]
	}

	autoMembers := names
	if len(autoMembers) == 0 {
		autoMembers = []string{"DIRECT"}
	}
	selectMembers := append([]string{GroupAutoSelect}, names...)

	groups := []model.Group{
		{Name: GroupAutoSelect, Type: "url-test", Members: autoMembers, TestURL: opt.TestURL, IntervalSec: opt.IntervalSec},
		{Name: GroupProxy, Type: "select", Members: selectMembers},
	}
	pg := make([]ProxyGroup, 0, len(groups))
	for _, g := range groups {
		pg = append(pg, ProxyGroup{
			Name:     g.Name,
			Type:     g.Type,
			Proxies:  g.Members,
			URL:      g.TestURL,
			Interval: g.IntervalSec,
		})
	}

	return &ClashDocument{
		Port:               opt.Port,
		SocksPort:          opt.SocksPort,
		AllowLan:           opt.AllowLan,
		Mode:               opt.Mode,
		LogLevel:           opt.LogLevel,
		ExternalController: opt.ExternalController,
		Proxies:            proxies,
		ProxyGroups:        pg,
		Rules:              rules,
	}, nil
}

// baseName is the display name, or server:port, plus the measured latency.
func baseName(n model.Node) string {
	name := strings.TrimSpace(n.DisplayName)
	if name == "" && n.Address != "" {
		name = n.Address + ":" + strconv.Itoa(n.Port)
	}
	if name == "" {
		name = string(n.Scheme)
	}
	if n.LatencyMs > 0 {
		name = fmt.Sprintf("%s - %dms", name, n.LatencyMs)
	}
	return name
}

// toProxy maps a node onto a Clash proxy entry. The first field is always
// the name; Clash fills it in once names are unique.
func toProxy(n model.Node) (Proxy, bool) {
	if n.Failed() {
		return Proxy{}, false
	}
	switch n.Scheme {
	case model.SchemeVmess:
		return vmessProxy(n)
	case model.SchemeShadowsocks:
		return ssProxy(n)
	case model.SchemeTrojan:
		return trojanProxy(n)
	case model.SchemeVless:
		return vlessProxy(n)
	case model.SchemeClashProxy:
		return clashProxy(n)
	default:
		return Proxy{}, false
	}
}

func newProxy(typ string, n model.Node) Proxy {
	var p Proxy
	p.set("name", "")
	p.set("type", typ)
	p.set("server", n.Address)
	p.set("port", n.Port)
	return p
}

func vmessProxy(n model.Node) (Proxy, bool) {
	if !n.Probeable() || n.Identifier == "" {
		return Proxy{}, false
	}
	p := newProxy("vmess", n)
	p.set("uuid", n.Identifier)
	aid, _ := strconv.Atoi(n.TransportString("aid"))
	p.set("alterId", aid)
	cipher := n.TransportString("scy")
	if cipher == "" {
		cipher = "auto"
	}
	p.set("cipher", cipher)
	p.set("tls", strings.EqualFold(n.TransportString("tls"), "tls"))
	network := n.TransportString("net")
	if network == "" {
		network = "tcp"
	}
	p.set("network", network)
	if sni := n.TransportString("sni"); sni != "" {
		p.set("servername", sni)
	}
	addTransportOpts(&p, network, n.TransportString("path"), n.TransportString("host"), n.Address)
	return p, true
}

func ssProxy(n model.Node) (Proxy, bool) {
	cipher := n.TransportString("cipher")
	if !n.Probeable() || cipher == "" || n.Identifier == "" {
		return Proxy{}, false
	}
	p := newProxy("ss", n)
	p.set("cipher", strings.ToLower(cipher))
	p.set("password", n.Identifier)

	plugin := n.TransportString("plugin")
	if plugin == "" {
		return p, true
	}
	opts, _ := n.Transport["plugin-opts"].(map[string]string)
	switch plugin {
	case "simple-obfs", "obfs-local":
		mode := strings.TrimSpace(opts["obfs"])
		if mode == "" {
			return Proxy{}, false
		}
		po := map[string]any{"mode": mode}
		if host := strings.TrimSpace(opts["obfs-host"]); host != "" {
			po["host"] = host
		}
		p.set("plugin", "obfs")
		p.set("plugin-opts", po)
	case "v2ray-plugin":
		po := map[string]any{"mode": "websocket"}
		if _, ok := opts["tls"]; ok {
			po["tls"] = true
		}
		if host := strings.TrimSpace(opts["host"]); host != "" {
			po["host"] = host
		}
		if path := strings.TrimSpace(opts["path"]); path != "" {
			po["path"] = path
		}
		p.set("plugin", "v2ray-plugin")
		p.set("plugin-opts", po)
	default:
		return Proxy{}, false
	}
	return p, true
}

func trojanProxy(n model.Node) (Proxy, bool) {
	if !n.Probeable() || n.Identifier == "" {
		return Proxy{}, false
	}
	p := newProxy("trojan", n)
	p.set("password", n.Identifier)
	sni := n.TransportString("sni")
	if sni == "" {
		sni = n.TransportString("host")
	}
	if sni != "" {
		p.set("sni", sni)
	}
	network := n.TransportString("type")
	if network != "" && network != "tcp" {
		p.set("network", network)
		addTransportOpts(&p, network, n.TransportString("path"), n.TransportString("host"), n.Address)
	}
	return p, true
}

func vlessProxy(n model.Node) (Proxy, bool) {
	if !n.Probeable() || n.Identifier == "" {
		return Proxy{}, false
	}
	p := newProxy("vless", n)
	p.set("uuid", n.Identifier)
	security := n.TransportString("security")
	p.set("tls", security == "tls" || security == "reality")
	network := n.TransportString("type")
	if network == "" {
		network = "tcp"
	}
	p.set("network", network)
	if sni := n.TransportString("sni"); sni != "" {
		p.set("servername", sni)
	}
	if flow := n.TransportString("flow"); flow != "" {
		p.set("flow", flow)
	}
	if fp := n.TransportString("fp"); fp != "" {
		p.set("client-fingerprint", fp)
	}
	if security == "reality" {
		ro := map[string]any{"public-key": n.TransportString("pbk")}
		if sid := n.TransportString("sid"); sid != "" {
			ro["short-id"] = sid
		}
		p.set("reality-opts", ro)
	}
	path := n.TransportString("path")
	if network == "grpc" {
		path = n.TransportString("serviceName")
	}
	addTransportOpts(&p, network, path, n.TransportString("host"), n.Address)
	return p, true
}

func addTransportOpts(p *Proxy, network, path, host, server string) {
	switch network {
	case "ws":
		if path == "" {
			path = "/"
		}
		if host == "" {
			host = server
		}
		p.set("ws-opts", map[string]any{
			"path":    path,
			"headers": map[string]any{"Host": host},
		})
	case "grpc":
		if path != "" {
			p.set("grpc-opts", map[string]any{"grpc-service-name": path})
		}
	}
}

// clashProxy re-emits an imported mapping: name, type, server and port
// first, the remaining keys sorted.
func clashProxy(n model.Node) (Proxy, bool) {
	typ, _ := n.Transport["type"].(string)
	if typ == "" || n.Transport["server"] == nil {
		return Proxy{}, false
	}
	var p Proxy
	p.set("name", "")
	p.set("type", typ)
	p.set("server", n.Transport["server"])
	if port, ok := n.Transport["port"]; ok {
		p.set("port", port)
	}
	rest := make([]string, 0, len(n.Transport))
	for k := range n.Transport {
		switch k {
		case "name", "type", "server", "port":
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		p.set(k, n.Transport[k])
	}
	return p, true
}
