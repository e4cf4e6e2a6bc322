package render

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/spider-clash/internal/model"
	"github.com/John-Robertt/spider-clash/internal/sub"
)

func decodeDoc(t *testing.T, doc *ClashDocument) map[string]any {
	t.Helper()
	b, err := doc.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal rendered yaml: %v\n%s", err, b)
	}
	return out
}

func TestClash_ExcludesDecodeErrorNodes(t *testing.T) {
	nodes := []model.Node{
		sub.Decode("vmess://!!!"),
		sub.Decode("trojan://pw@t.example.com:443#ok"),
		sub.Decode("hysteria://x"),
		{Scheme: model.SchemeVmess, Address: "1.2.3.4", Port: 443, Identifier: "id", DecodeError: &model.AppError{Code: "NODE_DECODE_ERROR"}},
	}

	doc, err := Clash(nodes, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	if len(doc.Proxies) != 1 {
		t.Fatalf("proxies=%d, want=1", len(doc.Proxies))
	}
	if got := doc.Proxies[0].Name(); got != "ok" {
		t.Fatalf("name=%q, want=%q", got, "ok")
	}
	if got := doc.Proxies[0].Get("server"); got != "t.example.com" {
		t.Fatalf("server=%v, want=t.example.com", got)
	}
}

func TestClash_DocumentShape(t *testing.T) {
	nodes := []model.Node{
		{Scheme: model.SchemeTrojan, Address: "a.example.com", Port: 443, Identifier: "pw", DisplayName: "A", LatencyMs: 120},
		{Scheme: model.SchemeTrojan, Address: "b.example.com", Port: 443, Identifier: "pw", DisplayName: "B"},
	}
	opt := DefaultClashOptions()
	opt.Rules = []model.Rule{{Type: "DOMAIN-SUFFIX", Value: "cn", Action: "DIRECT"}}

	doc, err := Clash(nodes, opt)
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	out := decodeDoc(t, doc)

	if out["port"] != 7890 || out["socks-port"] != 7891 {
		t.Fatalf("ports=%v/%v, want=7890/7891", out["port"], out["socks-port"])
	}
	if out["mode"] != "Rule" {
		t.Fatalf("mode=%v, want=Rule", out["mode"])
	}

	proxies, _ := out["proxies"].([]any)
	if len(proxies) != 2 {
		t.Fatalf("proxies=%d, want=2", len(proxies))
	}
	first, _ := proxies[0].(map[string]any)
	if first["name"] != "A - 120ms" {
		t.Fatalf("name=%v, want=%q", first["name"], "A - 120ms")
	}

	groups, _ := out["proxy-groups"].([]any)
	if len(groups) != 2 {
		t.Fatalf("groups=%d, want=2", len(groups))
	}
	auto, _ := groups[0].(map[string]any)
	if auto["name"] != GroupAutoSelect || auto["type"] != "url-test" {
		t.Fatalf("group[0]=%v", auto)
	}
	sel, _ := groups[1].(map[string]any)
	members, _ := sel["proxies"].([]any)
	if len(members) != 3 || members[0] != GroupAutoSelect {
		t.Fatalf("select members=%v", members)
	}

	rules, _ := out["rules"].([]any)
	if len(rules) != 2 || rules[0] != "DOMAIN-SUFFIX,cn,DIRECT" || rules[1] != "MATCH,Proxy" {
		t.Fatalf("rules=%v", rules)
	}
}

func TestClash_VmessScenario(t *testing.T) {
	payload := `{"ps":"hk","add":"1.2.3.4","port":"443","id":"uuid-1","aid":"0","net":"ws","path":"/ray","host":"h.example.com","tls":"tls"}`
	n := sub.Decode("vmess://" + base64.StdEncoding.EncodeToString([]byte(payload)))

	doc, err := Clash([]model.Node{n}, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	if len(doc.Proxies) != 1 {
		t.Fatalf("proxies=%d, want=1", len(doc.Proxies))
	}
	p := doc.Proxies[0]
	if p.Get("server") != "1.2.3.4" || p.Get("port") != 443 {
		t.Fatalf("endpoint=%v:%v", p.Get("server"), p.Get("port"))
	}
	if p.Get("cipher") != "auto" || p.Get("tls") != true || p.Get("network") != "ws" {
		t.Fatalf("proxy=%+v", p.Fields)
	}
	ws, _ := p.Get("ws-opts").(map[string]any)
	if ws["path"] != "/ray" {
		t.Fatalf("ws path=%v, want=/ray", ws["path"])
	}
}

func TestClash_PasswordStaysString(t *testing.T) {
	nodes := []model.Node{{
		Scheme:     model.SchemeShadowsocks,
		Address:    "example.com",
		Port:       8388,
		Identifier: "123",
		Transport: map[string]any{
			"cipher":      "AES-128-GCM",
			"plugin":      "simple-obfs",
			"plugin-opts": map[string]string{"obfs": "tls", "obfs-host": "example.com"},
		},
	}}
	doc, err := Clash(nodes, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	b, err := doc.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `password: "123"`) {
		t.Fatalf("expected quoted password, got:\n%s", s)
	}
	if !strings.Contains(s, "cipher: aes-128-gcm") || !strings.Contains(s, "plugin: obfs") {
		t.Fatalf("expected lower-cased cipher and obfs plugin, got:\n%s", s)
	}
}

func TestClash_UnsupportedPluginExcluded(t *testing.T) {
	nodes := []model.Node{{
		Scheme:     model.SchemeShadowsocks,
		Address:    "example.com",
		Port:       8388,
		Identifier: "pass",
		Transport:  map[string]any{"cipher": "aes-128-gcm", "plugin": "kcptun"},
	}}
	doc, err := Clash(nodes, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	if len(doc.Proxies) != 0 {
		t.Fatalf("proxies=%d, want=0", len(doc.Proxies))
	}
	if got := doc.ProxyGroups[0].Proxies; len(got) != 1 || got[0] != "DIRECT" {
		t.Fatalf("auto members=%v, want=[DIRECT]", got)
	}
}

func TestClash_NamesDeduplicated(t *testing.T) {
	nodes := []model.Node{
		{Scheme: model.SchemeTrojan, Address: "a", Port: 1, Identifier: "p", DisplayName: "same"},
		{Scheme: model.SchemeTrojan, Address: "b", Port: 1, Identifier: "p", DisplayName: "same"},
		{Scheme: model.SchemeTrojan, Address: "c", Port: 1, Identifier: "p", DisplayName: "Proxy"},
	}
	doc, err := Clash(nodes, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	want := []string{"same", "same-2", "Proxy-2"}
	for i, p := range doc.Proxies {
		if p.Name() != want[i] {
			t.Fatalf("name[%d]=%q, want=%q", i, p.Name(), want[i])
		}
	}
}

func TestClash_ClashProxyKeepsMapping(t *testing.T) {
	nodes, err := sub.ParseClashProxies("https://x/c.yaml", "proxies:\n  - {name: hk, type: snell, server: s.example.com, port: 443, psk: k}\n")
	if err != nil {
		t.Fatalf("ParseClashProxies: %v", err)
	}
	doc, err := Clash(nodes, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Clash: %v", err)
	}
	if len(doc.Proxies) != 1 {
		t.Fatalf("proxies=%d, want=1", len(doc.Proxies))
	}
	p := doc.Proxies[0]
	if p.Get("type") != "snell" || p.Get("psk") != "k" {
		t.Fatalf("proxy=%+v", p.Fields)
	}
	if p.Fields[0].Key != "name" {
		t.Fatalf("first key=%q, want=name", p.Fields[0].Key)
	}
}

func TestClash_RejectsMatchInExtraRules(t *testing.T) {
	opt := DefaultClashOptions()
	opt.Rules = []model.Rule{{Type: "MATCH", Action: "DIRECT"}}
	_, err := Clash(nil, opt)
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T (%v)", err, err)
	}
	if re.AppError.Code != "INVALID_RULE" {
		t.Fatalf("code=%q, want=INVALID_RULE", re.AppError.Code)
	}
}

func TestClash_DoesNotMutateInput(t *testing.T) {
	nodes := []model.Node{{Scheme: model.SchemeTrojan, Address: "a", Port: 1, Identifier: "p", DisplayName: "x", LatencyMs: 5}}
	if _, err := Clash(nodes, DefaultClashOptions()); err != nil {
		t.Fatalf("Clash: %v", err)
	}
	if nodes[0].DisplayName != "x" || nodes[0].LatencyMs != 5 {
		t.Fatalf("input mutated: %+v", nodes[0])
	}
}

func TestSubscription_SkipsFailedAndClashNodes(t *testing.T) {
	good := "trojan://pw@t.example.com:443#ok"
	nodes := []model.Node{
		sub.Decode(good),
		sub.Decode("vmess://!!!"),
		{Scheme: model.SchemeClashProxy, Raw: "{name: x}"},
	}
	blob, n := Subscription(nodes)
	if n != 1 {
		t.Fatalf("links=%d, want=1", n)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if string(raw) != good {
		t.Fatalf("blob=%q, want=%q", raw, good)
	}
}

func TestRender_Both(t *testing.T) {
	nodes := []model.Node{sub.Decode("trojan://pw@t.example.com:443#ok")}
	a, err := Render(nodes, DefaultClashOptions())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a.Proxies != 1 || a.Links != 1 {
		t.Fatalf("proxies=%d links=%d, want=1/1", a.Proxies, a.Links)
	}
	if !strings.Contains(string(a.Clash), "MATCH,Proxy") {
		t.Fatalf("clash doc missing MATCH rule:\n%s", a.Clash)
	}
}
